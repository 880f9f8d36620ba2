package service_test

import (
	"context"
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"jirareporter.app/reporter/internal/model"
	"jirareporter.app/reporter/internal/service"
	"jirareporter.app/reporter/internal/store"
)

var _ = Describe("IntegrationService", func() {
	var (
		ctx     context.Context
		configs *mockConfigStore
		verify  *mockProducer[model.VerifyConfig]
		svc     service.IntegrationService
	)

	BeforeEach(func() {
		ctx = context.Background()
		configs = &mockConfigStore{}
		verify = &mockProducer[model.VerifyConfig]{}
		svc = service.NewIntegrationService(configs, verify)
	})

	It("requests verification of a created config", func() {
		configs.insertFn = func(ctx context.Context, cfg *model.IntegrationConfig) error {
			cfg.ID = "CFG1"
			cfg.UpdateRev = "rev1"
			return nil
		}

		created, err := svc.Create(ctx, &model.IntegrationConfig{URL: "https://jira.example"})

		Expect(err).NotTo(HaveOccurred())
		Expect(created.ID).To(Equal("CFG1"))
		Expect(verify.produced).To(ConsistOf(model.VerifyConfig{ConfigID: "CFG1", UpdateRev: "rev1"}))
	})

	It("requests verification of the new revision on update", func() {
		configs.updateFn = func(ctx context.Context, cfg *model.IntegrationConfig) (*model.IntegrationConfig, *model.IntegrationConfig, error) {
			old := &model.IntegrationConfig{ID: cfg.ID, UpdateRev: "rev1"}
			updated := *cfg
			updated.UpdateRev = "rev2"
			return old, &updated, nil
		}

		old, updated, err := svc.Update(ctx, &model.IntegrationConfig{ID: "CFG1"})

		Expect(err).NotTo(HaveOccurred())
		Expect(old.UpdateRev).To(Equal("rev1"))
		Expect(updated.UpdateRev).To(Equal("rev2"))
		Expect(verify.produced).To(ConsistOf(model.VerifyConfig{ConfigID: "CFG1", UpdateRev: "rev2"}))
	})

	It("does not request verification when the update fails", func() {
		_, _, err := svc.Update(ctx, &model.IntegrationConfig{ID: "missing"})

		Expect(errors.Is(err, store.ErrNotFound)).To(BeTrue())
		Expect(verify.produced).To(BeEmpty())
	})

	It("keeps not found errors recognisable", func() {
		configs.deleteFn = func(ctx context.Context, id string) error { return store.ErrNotFound }

		Expect(errors.Is(svc.Delete(ctx, "missing"), store.ErrNotFound)).To(BeTrue())
		_, err := svc.Get(ctx, "missing")
		Expect(errors.Is(err, store.ErrNotFound)).To(BeTrue())
	})
})
