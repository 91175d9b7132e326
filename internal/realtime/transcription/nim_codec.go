package transcription

import "encoding/json"

// marshalJSON and unmarshalJSON back the hand-written MarshalJSON/
// UnmarshalJSON methods on the Riva request/response structs: each
// method passes itself through a local alias type to avoid infinite
// recursion into its own MarshalJSON/UnmarshalJSON.
func marshalJSON(v any) ([]byte, error) {
	switch t := v.(type) {
	case *recognizeRequest:
		type alias recognizeRequest
		return json.Marshal((*alias)(t))
	case *recognizeResponse:
		type alias recognizeResponse
		return json.Marshal((*alias)(t))
	case *streamingRecognizeRequest:
		type alias streamingRecognizeRequest
		return json.Marshal((*alias)(t))
	case *streamingRecognizeResponse:
		type alias streamingRecognizeResponse
		return json.Marshal((*alias)(t))
	default:
		return json.Marshal(v)
	}
}

func unmarshalJSON(data []byte, v any) error {
	switch t := v.(type) {
	case *recognizeRequest:
		type alias recognizeRequest
		return json.Unmarshal(data, (*alias)(t))
	case *recognizeResponse:
		type alias recognizeResponse
		return json.Unmarshal(data, (*alias)(t))
	case *streamingRecognizeRequest:
		type alias streamingRecognizeRequest
		return json.Unmarshal(data, (*alias)(t))
	case *streamingRecognizeResponse:
		type alias streamingRecognizeResponse
		return json.Unmarshal(data, (*alias)(t))
	default:
		return json.Unmarshal(data, v)
	}
}
