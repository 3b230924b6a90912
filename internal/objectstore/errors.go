package objectstore

import "github.com/groundline/groundline/internal/errdefs"

func notFoundErr(objectRef string) error {
	return errdefs.NotFound("object " + objectRef)
}
