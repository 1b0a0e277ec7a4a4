package http

import (
	"sync"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"finance-saas-go/internal/models"
	"finance-saas-go/internal/subscription"
)

var registerOnce sync.Once

// registerValidators adds the project's binding tags to gin's validator.
//
//	paid_plan: the value names a plan that can be bought
func registerValidators() {
	registerOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		_ = v.RegisterValidation("paid_plan", func(fl validator.FieldLevel) bool {
			_, err := subscription.PaidPlan(models.PlanID(fl.Field().String()))
			return err == nil
		})
	})
}
