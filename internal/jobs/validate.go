package jobs

import (
	"fmt"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

// ValidateRequest 在提交前检查用户输入（例如目标年龄区间）；Run 本身不做这些约束。
func ValidateRequest(req Request) error {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	if req == nil {
		return fmt.Errorf("job request is nil")
	}
	if err := validate.Struct(req); err != nil {
		return fmt.Errorf("invalid %s request: %w", req.Kind(), err)
	}
	return nil
}
