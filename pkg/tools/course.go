package tools

import (
	"context"

	analyst "github.com/Protocol-Lattice/duo-analyst"
	"github.com/Protocol-Lattice/duo-analyst/pkg/course"
)

// CourseArgs is the reference_course_content input.
type CourseArgs struct {
	Query string `json:"query" jsonschema_description:"Short description of the task."`
	K     int    `json:"k,omitempty" jsonschema_description:"Number of snippets. Defaults to 3."`
}

// ReferenceCourseContent returns the course chunks closest to a query.
func ReferenceCourseContent(searcher CourseSearcher) analyst.Tool {
	return &Definition[CourseArgs]{
		Name:        "reference_course_content",
		Description: "Retrieves course tips and snippets relevant to a short query. Guidance only, not a solution.",
		Run: func(ctx context.Context, in CourseArgs) (analyst.ToolResponse, error) {
			matches, err := searcher.TopK(ctx, in.Query, in.K)
			if err != nil {
				return failf("Error retrieving course tips: %v", err)
			}
			return reply(course.FormatTips(matches))
		},
	}
}
