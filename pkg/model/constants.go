// Package model defines the persisted entities of the task queue
// (applications, api keys and tasks) together with the pure policy that
// derives a task's next due date and status from its retry count.
package model

// Status is a task's lifecycle state. PENDING is the only non-terminal
// state: tasks move PENDING -> PENDING on retry and PENDING -> COMPLETED
// or FAILED exactly once.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
)

// RequestMethods are the HTTP methods a task may use for its outbound
// request.
var RequestMethods = []string{"DELETE", "PATCH", "POST", "PUT"}

const (
	DefaultCharset = "utf8"
	DefaultEnctype = "application/x-www-form-urlencoded"
	DefaultMethod  = "POST"

	// DefaultTimeout is the outbound request wall-clock budget in seconds.
	DefaultTimeout = 20

	// PassthroughPrefix marks ingress headers that should be forwarded to
	// the web hook, with the prefix stripped. Matching is case-insensitive.
	PassthroughPrefix = "NTORQUE-PASSTHROUGH-"
)

// ValidMethod reports whether method is one of RequestMethods.
func ValidMethod(method string) bool {
	for _, m := range RequestMethods {
		if m == method {
			return true
		}
	}
	return false
}
