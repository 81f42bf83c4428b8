package sentiment

import "errors"

var (
	ErrAnalyzerUnavailable = errors.New("sentiment analyzer unavailable")
	ErrInferenceTimeout    = errors.New("sentiment inference timeout")
	ErrInvalidResponse     = errors.New("sentiment analyzer returned invalid response")
)
