package firmware

import (
	"fmt"
	"os"
	"path/filepath"
)

// DefaultPath is the image file used when none is given.
const DefaultPath = "firmware.ino.bin"

// Image is a firmware binary loaded into memory for the duration of a run.
type Image struct {
	Path string
	Data []byte
}

// Load reads the firmware image at path.
func Load(path string) (*Image, error) {
	if path == "" {
		path = DefaultPath
	}

	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("firmware file not found: %s", path)
	}
	if err != nil {
		return nil, fmt.Errorf("cannot access firmware file: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("firmware path is a directory: %s", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read firmware file: %w", err)
	}

	return &Image{Path: path, Data: data}, nil
}

// Name returns the image file name without its directory.
func (img *Image) Name() string {
	return filepath.Base(img.Path)
}

// Size returns the image length in bytes.
func (img *Image) Size() int {
	return len(img.Data)
}
