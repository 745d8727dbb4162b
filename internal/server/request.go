package server

import (
	"strconv"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"pmboard/internal/board"
	"pmboard/internal/model"
)

var validate = validator.New()

// ViewLimits bounds view parameters and supplies their defaults.
type ViewLimits struct {
	DefaultLimit      int
	MaxLimit          int
	DefaultContenders int
	MaxContenders     int
}

// EventsRequest carries the view parameters shared by the pull and push endpoints.
type EventsRequest struct {
	Limit      int    `query:"limit" validate:"gte=1"`
	Sort       string `query:"sort" default:"volume" validate:"oneof=volume volume24h title"`
	Search     string `query:"search" validate:"max=200"`
	Contenders int    `query:"contenders" validate:"gte=1"`
}

// View converts a validated request into a board view.
func (r EventsRequest) View() board.View {
	return board.View{
		Limit:      r.Limit,
		Contenders: r.Contenders,
		Sort:       model.Sort(r.Sort),
		Search:     r.Search,
	}
}

// bindView reads, defaults and validates view parameters from the query string.
func bindView(c echo.Context, limits ViewLimits) (board.View, *APIError) {
	req := EventsRequest{Limit: limits.DefaultLimit, Contenders: limits.DefaultContenders}
	if err := (&echo.DefaultBinder{}).BindQueryParams(c, &req); err != nil {
		return board.View{}, badRequest("invalid query parameters", []FieldError{{Code: "ERR_BIND", Message: err.Error()}})
	}
	if err := defaults.Set(&req); err != nil {
		return board.View{}, internal(err)
	}
	if err := validate.StructCtx(c.Request().Context(), &req); err != nil {
		return board.View{}, badRequest("invalid query parameters", validationDetails(err))
	}

	var details []FieldError
	if req.Limit > limits.MaxLimit {
		details = append(details, FieldError{Field: "Limit", Code: "ERR_LTE", Message: "Limit must be at most " + strconv.Itoa(limits.MaxLimit)})
	}
	if req.Contenders > limits.MaxContenders {
		details = append(details, FieldError{Field: "Contenders", Code: "ERR_LTE", Message: "Contenders must be at most " + strconv.Itoa(limits.MaxContenders)})
	}
	if len(details) > 0 {
		return board.View{}, badRequest("invalid query parameters", details)
	}
	return req.View(), nil
}
