// pkg/transport/cloudstack/job.go
package cloudstack

import (
	"context"
	"fmt"
	"net/url"

	"github.com/tidwall/gjson"
)

// JobStatus is the jobstatus field of queryAsyncJobResult.
type JobStatus int

const (
	JobPending   JobStatus = 0
	JobSucceeded JobStatus = 1
	JobFailed    JobStatus = 2
)

func (s JobStatus) String() string {
	switch s {
	case JobPending:
		return "pending"
	case JobSucceeded:
		return "succeeded"
	case JobFailed:
		return "failed"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// Job is the state of an async job.
type Job struct {
	ID         string
	Status     JobStatus
	ResultCode int
	Result     gjson.Result
}

// Done reports whether the job has finished, successfully or not.
func (j *Job) Done() bool {
	return j.Status != JobPending
}

// Err returns the job failure as *Error, nil unless the job failed.
// jobresult.errorcode is preferred; jobresultcode is the fallback.
func (j *Job) Err() error {
	if j.Status != JobFailed {
		return nil
	}
	code := int(j.Result.Get("errorcode").Int())
	if code == 0 {
		code = j.ResultCode
	}
	msg := j.Result.Get("errortext").String()
	if msg == "" {
		msg = fmt.Sprintf("async job %s failed", j.ID)
	}
	return &Error{
		Code:    ClassifyAPICode(code),
		APICode: code,
		Message: msg,
	}
}

// ParseJob reads a queryAsyncJobResult response.
func ParseJob(resp *Response) *Job {
	return &Job{
		ID:         resp.Body.Get("jobid").String(),
		Status:     JobStatus(resp.Body.Get("jobstatus").Int()),
		ResultCode: int(resp.Body.Get("jobresultcode").Int()),
		Result:     resp.Body.Get("jobresult"),
	}
}

// QueryJob fetches the current state of an async job.
func QueryJob(ctx context.Context, d Doer, jobID string) (*Job, error) {
	if jobID == "" {
		return nil, NewError(ErrorCodeInvalidInput, "job id is required", nil)
	}
	resp, err := d.Do(ctx, Request{
		Command: "queryAsyncJobResult",
		Params:  url.Values{"jobid": {jobID}},
	})
	if err != nil {
		return nil, err
	}
	job := ParseJob(resp)
	if job.ID == "" {
		job.ID = jobID
	}
	return job, nil
}
