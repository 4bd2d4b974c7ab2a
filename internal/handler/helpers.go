package handler

import (
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/xtrace/xtrace/internal/domain"
	"github.com/xtrace/xtrace/internal/middleware"
)

// requireProjectID extracts the project id the auth middleware resolved
// for this request (spec.md §6). Every handler in this package runs
// behind middleware.Auth.Require(), so a missing value here means the
// middleware wasn't wired — callers treat that as 401, same as a
// missing credential.
func requireProjectID(c *fiber.Ctx) (string, error) {
	projectID, ok := middleware.GetProjectID(c)
	if !ok {
		return "", fiber.NewError(fiber.StatusUnauthorized, "Unauthorized")
	}
	return projectID, nil
}

// parsePage reads the `page` query parameter (spec.md §4.6/§4.7:
// page ≥ 1, default 1). An invalid or sub-1 value falls back to 1.
func parsePage(c *fiber.Ctx) int {
	page := parseQueryInt(c, "page", 1)
	if page < 1 {
		return 1
	}
	return page
}

// parseLimit reads the `limit` query parameter (spec.md §4.6/§4.7:
// limit in [1, 200], default 50). Out-of-range values fall back to 50.
func parseLimit(c *fiber.Ctx) int {
	limit := parseQueryInt(c, "limit", 50)
	if limit < 1 || limit > 200 {
		return 50
	}
	return limit
}

func parseQueryInt(c *fiber.Ctx, key string, defaultValue int) int {
	val := c.Query(key)
	if val == "" {
		return defaultValue
	}
	intVal, err := strconv.Atoi(val)
	if err != nil {
		return defaultValue
	}
	return intVal
}

// totalPages implements spec.md §4.6's ceiling division, 0 when empty.
func totalPages(totalItems, limit int) int {
	if totalItems == 0 || limit <= 0 {
		return 0
	}
	return (totalItems + limit - 1) / limit
}

// PageMeta is the `meta` object shape of spec.md §6 ("Pagination
// response shape"). Cursor is the additive SPEC_FULL.md §2 field.
type PageMeta struct {
	Page       int    `json:"page"`
	Limit      int    `json:"limit"`
	TotalItems int    `json:"totalItems"`
	TotalPages int    `json:"totalPages"`
	Cursor     string `json:"cursor,omitempty"`
}

func newPageMeta(page, limit, totalItems int, cursor string) PageMeta {
	return PageMeta{
		Page:       page,
		Limit:      limit,
		TotalItems: totalItems,
		TotalPages: totalPages(totalItems, limit),
		Cursor:     cursor,
	}
}

// messageResponse writes spec.md's uniform `{message}` error/success
// envelope (spec.md §4.2, §6).
func messageResponse(c *fiber.Ctx, statusCode int, message string) error {
	return c.Status(statusCode).JSON(fiber.Map{"message": message})
}

func badRequest(c *fiber.Ctx, message string) error {
	return messageResponse(c, fiber.StatusBadRequest, message)
}

func notFound(c *fiber.Ctx, message string) error {
	return messageResponse(c, fiber.StatusNotFound, message)
}

func internalError(c *fiber.Ctx, err error) error {
	return messageResponse(c, fiber.StatusInternalServerError, "Internal Server Error")
}

// parseFields reads the `fields` query parameter into a domain.FieldMask
// (spec.md §4.6).
func parseFields(c *fiber.Ctx) domain.FieldMask {
	return domain.ParseFieldMask(c.Query("fields"))
}
