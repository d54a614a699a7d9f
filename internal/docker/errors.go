package docker

import (
	"errors"

	"github.com/docker/docker/client"
)

// ErrNotFound is returned when a container, volume or network does not exist.
var ErrNotFound = errors.New("docker: not found")

// wrapNotFound maps SDK not-found errors onto ErrNotFound.
func wrapNotFound(err error) error {
	if err != nil && client.IsErrNotFound(err) {
		return ErrNotFound
	}
	return err
}
