package pdf

import (
	"bytes"
	"fmt"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

func init() {
	api.DisableConfigDir()
}

func relaxedConfig() *model.Configuration {
	cfg := model.NewDefaultConfiguration()
	cfg.ValidationMode = model.ValidationRelaxed
	return cfg
}

// PageCount validates content in relaxed mode and returns its page count.
func PageCount(content []byte) (count int, err error) {
	defer func() {
		if r := recover(); r != nil {
			count, err = 0, fmt.Errorf("read pdf structure: %v", r)
		}
	}()
	count, err = api.PageCount(bytes.NewReader(content), relaxedConfig())
	if err != nil {
		return 0, fmt.Errorf("read pdf structure: %w", err)
	}
	return count, nil
}
