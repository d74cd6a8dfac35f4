package routes

import (
	"strings"

	"github.com/gofiber/fiber/v3"

	"github.com/any-hub/any-fetch/internal/archive"
)

// RegisterPolicyRoutes 暴露 /-/policies 诊断接口，列出可在清单中引用的解压策略。
func RegisterPolicyRoutes(app *fiber.App) {
	if app == nil {
		return
	}

	app.Get("/-/policies", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"policies": encodePolicies(archive.Policies()),
		})
	})

	app.Get("/-/policies/:key", func(c fiber.Ctx) error {
		key := strings.ToLower(strings.TrimSpace(c.Params("key")))
		if key == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "policy_key_required"})
		}
		policy, ok := archive.ResolvePolicy(key)
		if !ok {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "policy_not_found"})
		}
		return c.JSON(encodePolicy(policy))
	})
}

type policyPayload struct {
	Key         string         `json:"key"`
	Description string         `json:"description"`
	Filter      archive.Filter `json:"filter"`
}

func encodePolicies(policies []archive.Policy) []policyPayload {
	if len(policies) == 0 {
		return nil
	}
	result := make([]policyPayload, 0, len(policies))
	for _, policy := range policies {
		result = append(result, encodePolicy(policy))
	}
	return result
}

func encodePolicy(policy archive.Policy) policyPayload {
	return policyPayload{
		Key:         policy.Key,
		Description: policy.Description,
		Filter:      policy.Filter,
	}
}
