package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Validate checks the configuration against the validate struct tags
// plus the cross-field rules the tags cannot express.
func Validate(cfg *Config) error {
	v := validator.New()
	if err := v.Struct(cfg); err != nil {
		var invalid *validator.InvalidValidationError
		if errors.As(err, &invalid) {
			return fmt.Errorf("invalid configuration: %w", err)
		}

		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q validation", fe.Namespace(), fe.Tag()))
			}
			return errors.New(strings.Join(msgs, "; "))
		}
		return err
	}

	if cfg.DiskBudget.ReservedSpace >= cfg.DiskBudget.MaxTotalSpace {
		return fmt.Errorf("disk_budget.reserved_space (%s) must be below max_total_space (%s)",
			cfg.DiskBudget.ReservedSpace, cfg.DiskBudget.MaxTotalSpace)
	}
	if cfg.Upload.ChunkSize > cfg.Upload.MaxFileSize {
		return fmt.Errorf("upload.chunk_size (%s) must not exceed max_file_size (%s)",
			cfg.Upload.ChunkSize, cfg.Upload.MaxFileSize)
	}
	return nil
}
