package quadtree

import "fmt"

const (
	// ErrTypeIndexRange is the type of errors returned when a record index
	// does not exist in a node.
	ErrTypeIndexRange = "quadtree_index_range"

	// ErrTypeNotImplemented is the type of errors returned by operations the
	// quadtree does not provide, such as nearest neighbor queries.
	ErrTypeNotImplemented = "quadtree_not_implemented"
)

const packageName = "quadtree: "

func textPanic(text string) {
	panic(packageName + text)
}

func fmtPanic(format string, a ...any) {
	panic(fmt.Sprintf(packageName+format, a...))
}
