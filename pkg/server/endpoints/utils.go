package endpoints

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/scitex/scitex-cloud/pkg/authenticator"
	"github.com/scitex/scitex-cloud/pkg/jobs"
	"github.com/scitex/scitex-cloud/pkg/server/store"
	"github.com/scitex/scitex-cloud/pkg/slurm"
	"github.com/scitex/scitex-cloud/pkg/tasks"
)

const maxBodyBytes = 1 << 20

var errBadBody = errors.New("invalid request body")

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]interface{}{"success": false, "error": message})
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, _ := json.Marshal(payload)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(response)
}

// respondWithFailure maps err to a status code, logs it and writes the
// error envelope.
func respondWithFailure(w http.ResponseWriter, log logrus.FieldLogger, err error) {
	code := statusFor(err)
	entry := log.WithError(err).WithField("status", code)
	if code >= http.StatusInternalServerError {
		entry.Error("request failed")
	} else {
		entry.Debug("request rejected")
	}
	message := err.Error()
	if code == http.StatusInternalServerError {
		message = "internal server error"
	}
	respondWithError(w, code, message)
}

func statusFor(err error) int {
	var cmdErr *slurm.CommandError
	switch {
	case errors.Is(err, errBadBody),
		errors.Is(err, slurm.ErrInvalidRequest),
		errors.Is(err, slurm.ErrInvalidTimeLimit),
		errors.Is(err, slurm.ErrUnknownPartition),
		errors.Is(err, slurm.ErrContainerNotFound),
		errors.Is(err, slurm.ErrScriptNotFound):
		return http.StatusBadRequest
	case errors.Is(err, authenticator.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, jobs.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, store.ErrNotFound),
		errors.Is(err, slurm.ErrJobNotFound),
		errors.Is(err, slurm.ErrOutputNotFound),
		errors.Is(err, tasks.ErrResultNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrConflict),
		errors.Is(err, jobs.ErrAlreadyFinished),
		errors.Is(err, jobs.ErrNotCancellable):
		return http.StatusConflict
	case errors.Is(err, slurm.ErrQuotaExceeded):
		return http.StatusTooManyRequests
	case errors.As(err, &cmdErr),
		errors.Is(err, tasks.ErrBrokerUnavailable),
		errors.Is(err, tasks.ErrBrokerClosed):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// decodeJSON reads a JSON object body into v.
func decodeJSON(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: body is empty", errBadBody)
		}
		return fmt.Errorf("%w: %v", errBadBody, err)
	}
	return nil
}
