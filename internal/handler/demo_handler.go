package handler

import (
	"fmt"
	"net/http"

	"go-session-auth/internal/model"
)

// DemoHandler serves fixed greetings that exercise the role and authority
// gates.
type DemoHandler struct{}

func NewDemoHandler() *DemoHandler {
	return &DemoHandler{}
}

func (h *DemoHandler) Public(w http.ResponseWriter, _ *http.Request) {
	writeSuccess(w, http.StatusOK, model.MessageData{Message: "Hello from public endpoint"}, nil)
}

func (h *DemoHandler) Admin(w http.ResponseWriter, _ *http.Request) {
	writeSuccess(w, http.StatusOK, model.MessageData{Message: "Hello from admin endpoint"}, nil)
}

func (h *DemoHandler) Manager(w http.ResponseWriter, _ *http.Request) {
	writeSuccess(w, http.StatusOK, model.MessageData{Message: "Hello from manager endpoint"}, nil)
}

// Resource answers every method of a gated demo resource with
// "<METHOD>:: <name> controller".
func (h *DemoHandler) Resource(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeSuccess(w, http.StatusOK, model.MessageData{
			Message: fmt.Sprintf("%s:: %s controller", r.Method, name),
		}, nil)
	}
}
