package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"

	"github.com/gin-gonic/gin"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"jirareporter.app/reporter/internal/http/handler"
	"jirareporter.app/reporter/internal/http/middleware"
	"jirareporter.app/reporter/internal/model"
	"jirareporter.app/reporter/internal/store"
)

var _ = Describe("IntegrationHandler", func() {
	const adminAPIKey = "test-admin-key"

	var (
		router *gin.Engine
		svc    *mockIntegrationService
	)

	stored := func() *model.IntegrationConfig {
		return &model.IntegrationConfig{
			ID:        "cfg-1",
			UpdateRev: "rev-1",
			URL:       "https://jira.example.com",
			Username:  "bot",
			Password:  "hunter2",
			Project:   "FUZZ",
			IssueType: "Bug",
		}
	}

	validBody := func() []byte {
		body, _ := json.Marshal(map[string]any{
			"url":        "https://jira.example.com",
			"username":   "bot",
			"password":   "hunter2",
			"project":    "FUZZ",
			"issue_type": "Bug",
		})
		return body
	}

	do := func(method, path string, body []byte) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, bytes.NewBuffer(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Admin-API-Key", adminAPIKey)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	decode := func(w *httptest.ResponseRecorder) map[string]any {
		var resp map[string]any
		Expect(json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
		return resp
	}

	BeforeEach(func() {
		gin.SetMode(gin.TestMode)
		router = gin.New()
		router.Use(middleware.Recovery())
		svc = &mockIntegrationService{}
		h := handler.NewIntegrationHandler(svc)

		rg := router.Group("/api/v1/integrations")
		rg.Use(middleware.RequireAdminAPIKey(adminAPIKey))
		rg.POST("", h.Create)
		rg.GET("/:id", h.Get)
		rg.PUT("/:id", h.Update)
		rg.DELETE("/:id", h.Delete)
	})

	Describe("Get", func() {
		It("returns the config with the password redacted", func() {
			svc.getFn = func(_ context.Context, id string) (*model.IntegrationConfig, error) {
				Expect(id).To(Equal("cfg-1"))
				return stored(), nil
			}

			w := do(http.MethodGet, "/api/v1/integrations/cfg-1", nil)

			Expect(w.Code).To(Equal(http.StatusOK))
			resp := decode(w)
			Expect(resp["status"]).To(Equal("OK"))
			Expect(resp["error"]).To(BeNil())
			result := resp["result"].(map[string]any)
			Expect(result["id"]).To(Equal("cfg-1"))
			Expect(result["password"]).To(Equal(model.RedactedSecret))
			Expect(w.Body.String()).NotTo(ContainSubstring("hunter2"))
		})

		It("returns 404 when the config does not exist", func() {
			svc.getFn = func(context.Context, string) (*model.IntegrationConfig, error) {
				return nil, fmt.Errorf("getting integration config: %w", store.ErrNotFound)
			}

			w := do(http.MethodGet, "/api/v1/integrations/missing", nil)

			Expect(w.Code).To(Equal(http.StatusNotFound))
			resp := decode(w)
			Expect(resp["status"]).To(Equal("Failed"))
			Expect(resp["error"]).To(Equal("Not found"))
		})

		It("hides storage failures behind a generic error", func() {
			svc.getFn = func(context.Context, string) (*model.IntegrationConfig, error) {
				return nil, errors.New("connection refused")
			}

			w := do(http.MethodGet, "/api/v1/integrations/cfg-1", nil)

			Expect(w.Code).To(Equal(http.StatusInternalServerError))
			Expect(w.Body.String()).To(MatchJSON(`{"status":"Failed","error":"Internal error","result":{}}`))
		})
	})

	Describe("Create", func() {
		It("returns 202 with the assigned id", func() {
			svc.createFn = func(_ context.Context, cfg *model.IntegrationConfig) (*model.IntegrationConfig, error) {
				Expect(cfg.ID).To(BeEmpty())
				Expect(cfg.Project).To(Equal("FUZZ"))
				out := *cfg
				out.ID = "new-id"
				out.UpdateRev = "rev-1"
				return &out, nil
			}

			w := do(http.MethodPost, "/api/v1/integrations", validBody())

			Expect(w.Code).To(Equal(http.StatusAccepted))
			Expect(w.Body.String()).To(MatchJSON(`{"status":"OK","error":null,"result":{"id":"new-id"}}`))
		})

		It("rejects a body missing required fields", func() {
			w := do(http.MethodPost, "/api/v1/integrations", []byte(`{"url":"https://jira.example.com"}`))

			Expect(w.Code).To(Equal(http.StatusUnprocessableEntity))
			Expect(decode(w)["status"]).To(Equal("Failed"))
		})
	})

	Describe("Update", func() {
		It("returns the redacted before and after snapshots", func() {
			svc.updateFn = func(_ context.Context, cfg *model.IntegrationConfig) (*model.IntegrationConfig, *model.IntegrationConfig, error) {
				Expect(cfg.ID).To(Equal("cfg-1"))
				old := stored()
				updated := *cfg
				updated.UpdateRev = "rev-2"
				return old, &updated, nil
			}

			body, _ := json.Marshal(map[string]any{
				"url":        "https://jira.example.com",
				"username":   "bot",
				"password":   "new-secret",
				"project":    "CRASH",
				"issue_type": "Bug",
			})
			w := do(http.MethodPut, "/api/v1/integrations/cfg-1", body)

			Expect(w.Code).To(Equal(http.StatusAccepted))
			result := decode(w)["result"].(map[string]any)
			old := result["old"].(map[string]any)
			updated := result["new"].(map[string]any)

			Expect(old["project"]).To(Equal("FUZZ"))
			Expect(updated["project"]).To(Equal("CRASH"))
			Expect(old["password"]).To(Equal(model.RedactedSecret))
			Expect(updated["password"]).To(Equal(model.RedactedSecret))
			Expect(updated).NotTo(HaveKey("id"))
			Expect(updated).NotTo(HaveKey("update_rev"))
		})

		It("returns 404 when the config does not exist", func() {
			svc.updateFn = func(context.Context, *model.IntegrationConfig) (*model.IntegrationConfig, *model.IntegrationConfig, error) {
				return nil, nil, store.ErrNotFound
			}

			w := do(http.MethodPut, "/api/v1/integrations/missing", validBody())

			Expect(w.Code).To(Equal(http.StatusNotFound))
			Expect(decode(w)["error"]).To(Equal("Record not found"))
		})
	})

	Describe("Delete", func() {
		It("returns 200 on success", func() {
			svc.deleteFn = func(_ context.Context, id string) error {
				Expect(id).To(Equal("cfg-1"))
				return nil
			}

			w := do(http.MethodDelete, "/api/v1/integrations/cfg-1", nil)

			Expect(w.Code).To(Equal(http.StatusOK))
			Expect(w.Body.String()).To(MatchJSON(`{"status":"OK","error":null,"result":{}}`))
		})

		It("returns 404 when the config does not exist", func() {
			svc.deleteFn = func(context.Context, string) error {
				return store.ErrNotFound
			}

			w := do(http.MethodDelete, "/api/v1/integrations/missing", nil)

			Expect(w.Code).To(Equal(http.StatusNotFound))
		})
	})

	Describe("admin API key", func() {
		It("rejects requests without the key", func() {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/integrations/cfg-1", nil)
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			Expect(w.Code).To(Equal(http.StatusUnauthorized))
		})

		It("accepts the key as a bearer token", func() {
			svc.getFn = func(context.Context, string) (*model.IntegrationConfig, error) {
				return stored(), nil
			}

			req := httptest.NewRequest(http.MethodGet, "/api/v1/integrations/cfg-1", nil)
			req.Header.Set("Authorization", "Bearer "+adminAPIKey)
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			Expect(w.Code).To(Equal(http.StatusOK))
		})
	})

	It("turns handler panics into the generic error", func() {
		svc.getFn = func(context.Context, string) (*model.IntegrationConfig, error) {
			panic("boom")
		}

		w := do(http.MethodGet, "/api/v1/integrations/cfg-1", nil)

		Expect(w.Code).To(Equal(http.StatusInternalServerError))
		Expect(w.Body.String()).To(MatchJSON(`{"status":"Failed","error":"Internal error","result":{}}`))
	})
})

var _ = Describe("HealthHandler", func() {
	It("reports the broker state", func() {
		gin.SetMode(gin.TestMode)
		pinger := &mockPinger{}
		router := gin.New()
		router.GET("/health", handler.NewHealthHandler(pinger).Health)

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
		Expect(w.Code).To(Equal(http.StatusOK))

		pinger.err = errors.New("closed")
		w = httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
		Expect(w.Code).To(Equal(http.StatusServiceUnavailable))
	})
})
