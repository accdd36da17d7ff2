package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/zombor/po-matcher/internal/remote"
)

type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o wait exceeded" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

var _ = Describe("IsTransient", func() {
	DescribeTable("classifies errors",
		func(err error, transient bool) {
			Expect(IsTransient(err)).To(Equal(transient))
		},
		Entry("nil", nil, false),
		Entry("503 UNAVAILABLE text", errors.New("503 UNAVAILABLE"), true),
		Entry("gateway timeout text", errors.New("upstream returned 504"), true),
		Entry("timed out text", errors.New("request timed out"), true),
		Entry("timeout text", errors.New("Timeout while reading"), true),
		Entry("deadline text", errors.New("rpc error: deadline exceeded"), true),
		Entry("overloaded text", errors.New("The model is overloaded."), true),
		Entry("resource exhausted text", errors.New("RESOURCE_EXHAUSTED: quota"), true),
		Entry("plain server error", errors.New("Polling Failed: 500"), false),
		Entry("digits inside an id", errors.New("job 4503a7 vanished"), false),
		Entry("503 status", &remote.StatusError{Op: "check status", Code: http.StatusServiceUnavailable, Message: "busy"}, true),
		Entry("429 status", &remote.StatusError{Op: "check status", Code: http.StatusTooManyRequests, Message: "slow down"}, true),
		Entry("404 status", &remote.StatusError{Op: "check status", Code: http.StatusNotFound, Message: "Not Found"}, false),
		Entry("transport deadline", &remote.TransportError{Op: "check status", Err: context.DeadlineExceeded}, true),
		Entry("transport refused", &remote.TransportError{Op: "check status", Err: errors.New("connection refused")}, false),
		Entry("wrapped deadline", fmt.Errorf("polling: %w", context.DeadlineExceeded), true),
		Entry("net timeout", fmt.Errorf("dial: %w", timeoutError{}), true),
	)
})

var _ = Describe("Classify", func() {
	It("asks the user to try again on overload", func() {
		outcome := Classify(errors.New("check status: status 500: 503 UNAVAILABLE"))
		Expect(outcome.Matched).To(BeFalse())
		Expect(outcome.Status).To(Equal(StatusTryAgain))
		Expect(outcome.Summary).To(ContainSubstring("overloaded"))
		Expect(outcome.Details).To(HaveLen(1))
	})

	It("reports other failures as errors with the raw text", func() {
		outcome := Classify(errors.New("Polling Failed: 500"))
		Expect(outcome).To(Equal(Outcome{
			Matched: false,
			Status:  StatusError,
			Summary: "Job failed: Polling Failed: 500",
			Details: []string{"Polling Failed: 500"},
		}))
	})
})
