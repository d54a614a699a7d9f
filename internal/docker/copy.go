package docker

import (
	"context"
	"fmt"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/pkg/archive"
)

// CopyDirToContainer copies the contents of srcDir into destDir inside the
// container. destDir must already exist.
func (c *Client) CopyDirToContainer(ctx context.Context, containerID, srcDir, destDir string) error {
	content, err := archive.TarWithOptions(srcDir, &archive.TarOptions{})
	if err != nil {
		return fmt.Errorf("failed to archive %s: %w", srcDir, err)
	}
	defer content.Close()

	if err := c.inner.CopyToContainer(ctx, containerID, destDir, content, container.CopyToContainerOptions{
		AllowOverwriteDirWithFile: false,
	}); err != nil {
		return fmt.Errorf("failed to copy files into %s:%s: %w", containerID, destDir, wrapNotFound(err))
	}
	return nil
}
