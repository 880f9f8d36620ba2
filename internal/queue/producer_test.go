package queue_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"jirareporter.app/reporter/internal/queue"
)

var _ = Describe("ProducingChannel", func() {
	var (
		ctx       context.Context
		transport *fakeTransport
		app       *queue.App
		out       *queue.ProducingChannel
		producer  *queue.Producer[shouty]
	)

	BeforeEach(func() {
		ctx = context.Background()
		transport = newFakeTransport()
		app = queue.NewApp(transport)

		var err error
		out, err = app.CreateProducingChannel(ctx, "out")
		Expect(err).NotTo(HaveOccurred())
		producer = queue.AddProducer[shouty](out, "shout")
	})

	AfterEach(func() {
		app.Stop()
	})

	It("keeps produced messages until the flusher runs", func() {
		Expect(producer.Produce(ctx, shouty{Text: "a"})).To(Succeed())

		Expect(out.Pending()).To(Equal(1))
		env := out.Export()[0]
		Expect(env.ID).NotTo(BeEmpty())
		Expect(env.Name).To(Equal("shout"))
		Expect(string(env.Payload)).To(MatchJSON(`{"text":"a"}`))
	})

	It("publishes in production order", func() {
		for _, text := range []string{"a", "b", "c"} {
			Expect(producer.Produce(ctx, shouty{Text: text})).To(Succeed())
		}

		app.Start(ctx)

		Eventually(func() []queue.Envelope { return transport.Published("out") }).Should(HaveLen(3))
		var texts []string
		for _, env := range transport.Published("out") {
			var s shouty
			Expect(json.Unmarshal(env.Payload, &s)).To(Succeed())
			texts = append(texts, s.Text)
		}
		Expect(texts).To(Equal([]string{"a", "b", "c"}))
		Expect(out.Pending()).To(BeZero())
	})

	It("retries a failed publish without reordering", func() {
		var failures atomic.Int32
		transport.publishFn = func(ctx context.Context, q string, env queue.Envelope) error {
			if failures.Add(1) <= 2 {
				return errors.New("broker unavailable")
			}
			return nil
		}

		Expect(producer.Produce(ctx, shouty{Text: "a"})).To(Succeed())
		Expect(producer.Produce(ctx, shouty{Text: "b"})).To(Succeed())
		app.Start(ctx)

		Eventually(func() []queue.Envelope { return transport.Published("out") }, 5*time.Second).Should(HaveLen(2))
		first := transport.Published("out")[0]
		Expect(string(first.Payload)).To(MatchJSON(`{"text":"a"}`))
	})

	It("wakes up for messages produced after start", func() {
		app.Start(ctx)
		Expect(producer.Produce(ctx, shouty{Text: "late"})).To(Succeed())

		Eventually(func() []queue.Envelope { return transport.Published("out") }).Should(HaveLen(1))
	})

	It("leaves unpublished messages pending when stopped", func() {
		transport.publishFn = func(ctx context.Context, q string, env queue.Envelope) error {
			return errors.New("broker unavailable")
		}
		Expect(producer.Produce(ctx, shouty{Text: "a"})).To(Succeed())

		app.Start(ctx)
		app.Stop()

		Expect(out.Pending()).To(Equal(1))
	})

	Describe("unsent snapshots", func() {
		It("round-trips through export and import, older messages first", func() {
			Expect(producer.Produce(ctx, shouty{Text: "old"})).To(Succeed())
			snapshot, err := app.ExportUnsent()
			Expect(err).NotTo(HaveOccurred())
			Expect(snapshot).To(HaveKey("out"))

			next := queue.NewApp(newFakeTransport())
			nextOut, err := next.CreateProducingChannel(ctx, "out")
			Expect(err).NotTo(HaveOccurred())
			Expect(queue.AddProducer[shouty](nextOut, "shout").Produce(ctx, shouty{Text: "new"})).To(Succeed())

			Expect(next.ImportUnsent(snapshot)).To(Succeed())

			pending := nextOut.Export()
			Expect(pending).To(HaveLen(2))
			Expect(string(pending[0].Payload)).To(MatchJSON(`{"text":"old"}`))
			Expect(string(pending[1].Payload)).To(MatchJSON(`{"text":"new"}`))
		})

		It("keeps messages for channels that were not declared", func() {
			snapshot := map[string][]json.RawMessage{
				"gone": {json.RawMessage(`{"id":"x","name":"shout","payload":{"text":"a"}}`)},
			}

			Expect(app.ImportUnsent(snapshot)).To(Succeed())
			exported, err := app.ExportUnsent()

			Expect(err).NotTo(HaveOccurred())
			Expect(exported).To(HaveKey("gone"))
			Expect(exported["gone"]).To(HaveLen(1))
			Expect(exported).NotTo(HaveKey("out"))
		})

		It("fails on a corrupt snapshot", func() {
			snapshot := map[string][]json.RawMessage{"out": {json.RawMessage(`[`)}}

			Expect(app.ImportUnsent(snapshot)).NotTo(Succeed())
		})
	})
})
