package service_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"jirareporter.app/reporter/internal/model"
	"jirareporter.app/reporter/internal/service"
)

var _ = Describe("Description", func() {
	msg := model.UniqueCrash{
		CrashInfo:    "Duplicates: 9 in crash info",
		CrashURL:     "https://example.test/c/1",
		ProjectName:  "proj",
		FuzzerName:   "afl",
		RevisionName: "r1",
		CrashOutput:  "Duplicates: 8 inside output",
	}

	It("renders every field and a zero counter", func() {
		Expect(service.Description(msg)).To(Equal("Crash info: Duplicates: 9 in crash info\n" +
			"Crash link: https://example.test/c/1\n" +
			"Project name: proj\n" +
			"Fuzzer name: afl\n" +
			"Revision: r1\n" +
			"Duplicates: 0\n" +
			"{noformat}Duplicates: 8 inside output{noformat}"))
	})

	It("replaces the counter line and leaves look-alikes alone", func() {
		desc := service.Description(msg)

		updated, ok := service.ReplaceDuplicates(desc, 12)

		Expect(ok).To(BeTrue())
		Expect(updated).To(ContainSubstring("Crash info: Duplicates: 9 in crash info"))
		Expect(updated).To(ContainSubstring("\nDuplicates: 12\n"))
		Expect(updated).To(ContainSubstring("{noformat}Duplicates: 8 inside output{noformat}"))
		Expect(len(updated)).To(Equal(len(desc) + 1))
	})

	It("reports descriptions without a counter", func() {
		updated, ok := service.ReplaceDuplicates("nothing here", 3)

		Expect(ok).To(BeFalse())
		Expect(updated).To(Equal("nothing here"))
	})

	It("builds labels in fuzzer, revision, type order", func() {
		m := msg
		m.CrashType = "oom"
		Expect(service.Labels(m)).To(Equal([]string{"afl", "r1", "oom"}))
	})
})
