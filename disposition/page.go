package disposition

import (
	"embed"
	"fmt"
	"html/template"
	"io"
	"strings"

	"github.com/matcontt/tindercam/internal/domain"
	"github.com/russross/blackfriday/v2"
)

//go:embed templates/layout.html
var templateFS embed.FS

var layout = template.Must(template.New("layout.html").Funcs(template.FuncMap{
	"markdown": func(text string) template.HTML {
		return template.HTML(blackfriday.Run([]byte(text)))
	},
}).ParseFS(templateFS, "templates/layout.html"))

// PageContent is rendered into the HTML layout. Content is markdown.
type PageContent struct {
	Lang    string
	Title   string
	Content string
}

func ExecTemplate(w io.Writer, content PageContent) error {
	return layout.Execute(w, content)
}

// StatusMarkdown describes the counters, the in-flight photo and both
// collections, newest first.
func StatusMarkdown(tr *Translator, status Status, gallery, trash []*domain.Photo) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", tr.T("status_title"))
	fmt.Fprintf(&b, "**%s** · %s\n\n", tr.GalleryCounter(status.Counts), tr.TrashCounter(status.Counts))
	if status.Counts.GalleryFull {
		fmt.Fprintf(&b, "> **%s** %s\n\n", tr.T("gallery_full_title"), tr.T("gallery_full_body", map[string]any{"Capacity": status.Counts.GalleryCapacity}))
	}
	if p := status.InFlight; p != nil {
		fmt.Fprintf(&b, "%s\n\n", tr.T("in_flight", map[string]any{"ID": p.ID, "Width": p.Width, "Height": p.Height}))
		fmt.Fprintf(&b, "![%s](/asset/%s)\n\n", p.ID, p.ID)
		fmt.Fprintf(&b, "_%s_\n\n", tr.T("swipe_hint"))
	} else {
		fmt.Fprintf(&b, "_%s_\n\n", tr.T("no_photo"))
	}
	writeCollection(&b, tr, tr.T("gallery_title"), gallery)
	writeCollection(&b, tr, tr.T("trash_title"), trash)
	return b.String()
}

func writeCollection(b *strings.Builder, tr *Translator, title string, photos []*domain.Photo) {
	fmt.Fprintf(b, "## %s (%d)\n\n", title, len(photos))
	if len(photos) == 0 {
		fmt.Fprintf(b, "%s\n\n", tr.T("empty_collection"))
		return
	}
	for i := len(photos) - 1; i >= 0; i-- {
		fmt.Fprintf(b, "[![%s](/asset/%s)](/asset/%s) ", photos[i].ID, photos[i].ID, photos[i].ID)
	}
	fmt.Fprintf(b, "\n\n")
}
