package tracker_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"jirareporter.app/reporter/internal/model"
	"jirareporter.app/reporter/internal/tracker"
)

var _ = Describe("JiraGateway", func() {
	var (
		ctx     context.Context
		server  *httptest.Server
		handler http.HandlerFunc
		gateway *tracker.JiraGateway
		cfg     model.IntegrationConfig
	)

	BeforeEach(func() {
		ctx = context.Background()
		handler = func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTeapot)
		}
		server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			handler(w, r)
		}))
		gateway = tracker.NewJiraGateway(5 * time.Second)
		cfg = model.IntegrationConfig{
			URL:       server.URL + "/",
			Username:  "bot",
			Password:  "token",
			Project:   "CRASH",
			IssueType: "Bug",
		}
	})

	AfterEach(func() {
		server.Close()
	})

	Describe("CreateIssue", func() {
		It("posts the issue fields with basic auth and returns the new id", func() {
			var got map[string]map[string]any
			handler = func(w http.ResponseWriter, r *http.Request) {
				defer GinkgoRecover()
				Expect(r.Method).To(Equal(http.MethodPost))
				Expect(r.URL.Path).To(Equal("/rest/api/2/issue"))
				user, pass, ok := r.BasicAuth()
				Expect(ok).To(BeTrue())
				Expect(user).To(Equal("bot"))
				Expect(pass).To(Equal("token"))

				body, _ := io.ReadAll(r.Body)
				Expect(json.Unmarshal(body, &got)).To(Succeed())

				w.WriteHeader(http.StatusCreated)
				_, _ = w.Write([]byte(`{"id":"10042","key":"CRASH-1"}`))
			}

			id, err := gateway.CreateIssue(ctx, cfg, "summary", "desc", []string{"afl", "r1", "SEGV"})

			Expect(err).NotTo(HaveOccurred())
			Expect(id).To(Equal(int64(10042)))
			fields := got["fields"]
			Expect(fields["project"]).To(Equal(map[string]any{"key": "CRASH"}))
			Expect(fields["issuetype"]).To(Equal(map[string]any{"name": "Bug"}))
			Expect(fields["summary"]).To(Equal("summary"))
			Expect(fields["description"]).To(Equal("desc"))
			Expect(fields["labels"]).To(Equal([]any{"afl", "r1", "SEGV"}))
			Expect(fields).NotTo(HaveKey("priority"))
		})

		It("sends the priority when the config has one", func() {
			var got map[string]map[string]any
			handler = func(w http.ResponseWriter, r *http.Request) {
				body, _ := io.ReadAll(r.Body)
				_ = json.Unmarshal(body, &got)
				w.WriteHeader(http.StatusCreated)
				_, _ = w.Write([]byte(`{"id":"1"}`))
			}
			cfg.Priority = ptr("High")

			_, err := gateway.CreateIssue(ctx, cfg, "s", "d", nil)

			Expect(err).NotTo(HaveOccurred())
			Expect(got["fields"]["priority"]).To(Equal(map[string]any{"name": "High"}))
			Expect(got["fields"]["labels"]).To(Equal([]any{}))
		})

		It("names the rejected fields on 400", func() {
			handler = func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusBadRequest)
				_, _ = w.Write([]byte(`{"errors":{"priority":"bad","issuetype":"bad"}}`))
			}

			_, err := gateway.CreateIssue(ctx, cfg, "s", "d", nil)

			var verr *tracker.ValidationError
			Expect(errors.As(err, &verr)).To(BeTrue())
			Expect(verr.Fields).To(Equal([]string{"issuetype", "priority"}))
			Expect(err.Error()).To(Equal("wrong values in fields: issuetype, priority"))
		})

		It("treats 200 as an unexpected status", func() {
			handler = func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			}

			_, err := gateway.CreateIssue(ctx, cfg, "s", "d", nil)

			Expect(err).To(MatchError(ContainSubstring("invalid response code (200)")))
			Expect(errors.Is(err, tracker.ErrTracker)).To(BeTrue())
		})
	})

	DescribeTable("maps response codes to typed errors",
		func(status int, check func(err error)) {
			handler = func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(status)
			}

			err := gateway.DeleteIssue(ctx, cfg, 7)

			Expect(errors.Is(err, tracker.ErrTracker)).To(BeTrue())
			check(err)
		},
		Entry("401", http.StatusUnauthorized, func(err error) {
			var e *tracker.AuthError
			Expect(errors.As(err, &e)).To(BeTrue())
		}),
		Entry("403", http.StatusForbidden, func(err error) {
			Expect(err).To(MatchError(ContainSubstring("permission")))
		}),
		Entry("404", http.StatusNotFound, func(err error) {
			Expect(tracker.IsNotFound(err)).To(BeTrue())
		}),
		Entry("500", http.StatusInternalServerError, func(err error) {
			var e *tracker.ServerError
			Expect(errors.As(err, &e)).To(BeTrue())
			Expect(tracker.Transient(err)).To(BeTrue())
		}),
		Entry("503", http.StatusServiceUnavailable, func(err error) {
			var e *tracker.ServerError
			Expect(errors.As(err, &e)).To(BeTrue())
		}),
		Entry("418", http.StatusTeapot, func(err error) {
			Expect(err).To(MatchError(ContainSubstring("invalid response code (418)")))
			Expect(tracker.Transient(err)).To(BeFalse())
		}),
	)

	It("reports unreachable servers as connection errors", func() {
		server.Close()

		err := gateway.DeleteIssue(ctx, cfg, 7)

		var e *tracker.ConnectionError
		Expect(errors.As(err, &e)).To(BeTrue())
		Expect(errors.Is(err, tracker.ErrTracker)).To(BeTrue())
	})

	Describe("descriptions", func() {
		It("reads the description field", func() {
			handler = func(w http.ResponseWriter, r *http.Request) {
				defer GinkgoRecover()
				Expect(r.URL.Path).To(Equal("/rest/api/2/issue/7"))
				_, _ = w.Write([]byte(`{"id":"7","fields":{"description":"Duplicates: 3"}}`))
			}

			desc, err := gateway.GetDescription(ctx, cfg, 7)

			Expect(err).NotTo(HaveOccurred())
			Expect(desc).To(Equal("Duplicates: 3"))
		})

		It("reads a null description as empty", func() {
			handler = func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`{"id":"7","fields":{"description":null}}`))
			}

			desc, err := gateway.GetDescription(ctx, cfg, 7)

			Expect(err).NotTo(HaveOccurred())
			Expect(desc).To(BeEmpty())
		})

		It("puts the new description", func() {
			var got map[string]map[string]string
			handler = func(w http.ResponseWriter, r *http.Request) {
				defer GinkgoRecover()
				Expect(r.Method).To(Equal(http.MethodPut))
				body, _ := io.ReadAll(r.Body)
				Expect(json.Unmarshal(body, &got)).To(Succeed())
				w.WriteHeader(http.StatusNoContent)
			}

			Expect(gateway.UpdateDescription(ctx, cfg, 7, "new text")).To(Succeed())
			Expect(got["fields"]["description"]).To(Equal("new text"))
		})
	})
})

func ptr[T any](v T) *T {
	return &v
}
