package dispatch

import "errors"

// ErrBusy is returned when a submission is refused because another one has
// not reached a terminal event yet.
var ErrBusy = errors.New("dispatch: submission already in flight")

// ErrAbandoned is returned when the submission's stream was invalidated
// (session switch or new chat) before it finished; the caller must discard
// everything related to it.
var ErrAbandoned = errors.New("dispatch: submission abandoned")

// ErrEmptySubmission is returned when the user text is empty after
// trimming.
var ErrEmptySubmission = errors.New("dispatch: empty submission")

// QueryError is a transport-level failure: the stream could not be opened
// or dropped before any content arrived. Mid-stream protocol failures do
// NOT produce a QueryError; they resolve into an errored Result so the
// exchange still yields a visible assistant turn.
type QueryError struct {
	Message string
	Cause   error
}

func (e *QueryError) Error() string {
	return e.Message
}

func (e *QueryError) Unwrap() error {
	return e.Cause
}

// Localized fallback texts used when the server provides no message of its
// own. These become the content of the synthesized assistant turn.
const (
	defaultErrorText   = "Произошла ошибка при обработке запроса. Попробуйте ещё раз."
	defaultTimeoutText = "Превышено время ожидания ответа."
	transportErrorText = "Не удалось связаться с сервером. Проверьте подключение."
)
