package logging

import "log/slog"

// Field names shared across packages. Payload contents never get a field.
const (
	FieldRequestID  = "request_id"
	FieldUserID     = "user_id"
	FieldDay        = "day"
	FieldRunID      = "run_id"
	FieldRawEventID = "raw_event_id"
	FieldKind       = "kind"
	FieldStage      = "stage"
	FieldCode       = "code"
	FieldMethod     = "method"
	FieldPath       = "path"
	FieldStatus     = "status"
	FieldDuration   = "duration_ms"
	FieldError      = "error"
)

func UserID(id string) slog.Attr { return slog.String(FieldUserID, id) }

func Day(day string) slog.Attr { return slog.String(FieldDay, day) }

func RunID(id string) slog.Attr { return slog.String(FieldRunID, id) }

func RawEventID(id string) slog.Attr { return slog.String(FieldRawEventID, id) }

func Kind(kind string) slog.Attr { return slog.String(FieldKind, kind) }

func Stage(stage string) slog.Attr { return slog.String(FieldStage, stage) }

func Code(code string) slog.Attr { return slog.String(FieldCode, code) }

func Method(method string) slog.Attr { return slog.String(FieldMethod, method) }

func Path(path string) slog.Attr { return slog.String(FieldPath, path) }

func Status(code int) slog.Attr { return slog.Int(FieldStatus, code) }

func Duration(ms int64) slog.Attr { return slog.Int64(FieldDuration, ms) }

// Error returns an attribute for err. A nil error logs as an empty string.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(FieldError, "")
	}
	return slog.String(FieldError, err.Error())
}
