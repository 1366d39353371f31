// ABOUTME: The course command links course codes to their handbook pages

package builtins

import (
	"context"
	"strings"

	"github.com/2389/coven-familiar/internal/fragment"
)

// DefaultCoursePrefix is used when no course prefix is configured.
const DefaultCoursePrefix = "https://www.handbook.unsw.edu.au/undergraduate/courses/2020/"

// Linker builds the course-link fragment.
func Linker(prefix string) *fragment.Fragment {
	if prefix == "" {
		prefix = DefaultCoursePrefix
	}
	f := fragment.New("linker")
	f.Command(fragment.Command{
		Name:  "course",
		Usage: "<code> [code...]",
		Help:  "Link to the handbook page of one or more courses.",
		Handler: func(ctx context.Context, inv *fragment.Invocation) error {
			if len(inv.Args) == 0 {
				return fragment.ErrUsage
			}
			links := make([]string, 0, len(inv.Args))
			for _, code := range inv.Args {
				links = append(links, prefix+strings.ToUpper(strings.TrimSpace(code)))
			}
			return inv.Reply(ctx, "📑 "+strings.Join(links, "\n"))
		},
	})
	return f
}
