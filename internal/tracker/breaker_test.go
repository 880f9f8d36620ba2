package tracker_test

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sony/gobreaker"

	"jirareporter.app/reporter/internal/model"
	"jirareporter.app/reporter/internal/tracker"
)

type mockGateway struct {
	calls    int
	createFn func(ctx context.Context, cfg model.IntegrationConfig) (int64, error)
	deleteFn func(ctx context.Context, cfg model.IntegrationConfig, issueID int64) error
}

func (m *mockGateway) CreateIssue(ctx context.Context, cfg model.IntegrationConfig, summary, description string, labels []string) (int64, error) {
	m.calls++
	if m.createFn != nil {
		return m.createFn(ctx, cfg)
	}
	return 1, nil
}

func (m *mockGateway) GetDescription(ctx context.Context, cfg model.IntegrationConfig, issueID int64) (string, error) {
	m.calls++
	return "", nil
}

func (m *mockGateway) UpdateDescription(ctx context.Context, cfg model.IntegrationConfig, issueID int64, description string) error {
	m.calls++
	return nil
}

func (m *mockGateway) DeleteIssue(ctx context.Context, cfg model.IntegrationConfig, issueID int64) error {
	m.calls++
	if m.deleteFn != nil {
		return m.deleteFn(ctx, cfg, issueID)
	}
	return nil
}

var _ = Describe("BreakerGateway", func() {
	var (
		ctx     context.Context
		next    *mockGateway
		gateway *tracker.BreakerGateway
		broken  model.IntegrationConfig
		healthy model.IntegrationConfig
	)

	BeforeEach(func() {
		ctx = context.Background()
		next = &mockGateway{}
		gateway = tracker.NewBreakerGateway(next, tracker.BreakerConfig{
			ConsecutiveFailures: 2,
			Timeout:             time.Hour,
		})
		broken = model.IntegrationConfig{URL: "https://broken.example"}
		healthy = model.IntegrationConfig{URL: "https://healthy.example"}
	})

	It("passes results through", func() {
		id, err := gateway.CreateIssue(ctx, healthy, "s", "d", nil)

		Expect(err).NotTo(HaveOccurred())
		Expect(id).To(Equal(int64(1)))
	})

	It("opens after consecutive transient failures for one url only", func() {
		next.createFn = func(ctx context.Context, cfg model.IntegrationConfig) (int64, error) {
			if cfg.URL == broken.URL {
				return 0, &tracker.ServerError{Status: 502}
			}
			return 5, nil
		}

		for range 2 {
			_, err := gateway.CreateIssue(ctx, broken, "s", "d", nil)
			Expect(errors.As(err, new(*tracker.ServerError))).To(BeTrue())
		}
		Expect(gateway.State(broken.URL)).To(Equal(gobreaker.StateOpen))

		calls := next.calls
		_, err := gateway.CreateIssue(ctx, broken, "s", "d", nil)
		Expect(err).To(MatchError(ContainSubstring("jira circuit open")))
		Expect(errors.Is(err, tracker.ErrTracker)).To(BeTrue())
		Expect(next.calls).To(Equal(calls))

		id, err := gateway.CreateIssue(ctx, healthy, "s", "d", nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(id).To(Equal(int64(5)))
	})

	It("does not count client errors against the endpoint", func() {
		next.deleteFn = func(ctx context.Context, cfg model.IntegrationConfig, issueID int64) error {
			return &tracker.NotFoundError{IssueID: issueID}
		}

		for range 5 {
			Expect(tracker.IsNotFound(gateway.DeleteIssue(ctx, broken, 1))).To(BeTrue())
		}
		Expect(gateway.State(broken.URL)).To(Equal(gobreaker.StateClosed))
	})
})
