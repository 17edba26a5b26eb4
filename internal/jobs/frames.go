package jobs

import (
	"encoding/json"
	"fmt"
)

// EventType 是归一化后的帧类别。
type EventType int

const (
	EventProgress EventType = iota
	EventSuccess
	EventFailure
)

func (t EventType) String() string {
	switch t {
	case EventProgress:
		return "progress"
	case EventSuccess:
		return "success"
	case EventFailure:
		return "failure"
	default:
		return fmt.Sprintf("EventType(%d)", int(t))
	}
}

// ProcessingTime is echoed by the speech service on its frames, in seconds.
type ProcessingTime struct {
	Generation *float64 `json:"generation,omitempty" yaml:"generation,omitempty"`
	Upload     *float64 `json:"upload,omitempty" yaml:"upload,omitempty"`
	Total      *float64 `json:"total,omitempty" yaml:"total,omitempty"`
}

// Event 是三种服务各自消息格式归一化后的结果。
// Status 保留原始判别字段的值（speech 的 status，图像任务的 type）。
type Event struct {
	Kind           Kind
	Type           EventType
	Status         string
	Message        string
	URL            string
	ProcessingTime *ProcessingTime
	Raw            json.RawMessage
}

type speechFrame struct {
	Status         *string         `json:"status"`
	Message        string          `json:"message"`
	ProcessingTime *ProcessingTime `json:"processingTime"`
	AudioURL       string          `json:"audioUrl"`
}

type ageFrame struct {
	Type *string `json:"type"`
	Data struct {
		Message  string `json:"message"`
		FinalURL string `json:"final_url"`
	} `json:"data"`
}

type backgroundFrame struct {
	Type      *string `json:"type"`
	Message   string  `json:"message"`
	ResultURL string  `json:"result_url"`
}

func parseFrame(kind Kind, data []byte) (Event, error) {
	switch kind {
	case KindSpeech:
		return parseSpeechFrame(data)
	case KindAge:
		return parseAgeFrame(data)
	case KindBackground:
		return parseBackgroundFrame(data)
	default:
		return Event{}, fmt.Errorf("%w: unsupported job kind %q", ErrProtocol, kind)
	}
}

func parseSpeechFrame(data []byte) (Event, error) {
	var f speechFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return Event{}, fmt.Errorf("%w: decode speech frame: %w", ErrProtocol, err)
	}
	if f.Status == nil {
		return Event{}, fmt.Errorf("%w: speech frame missing status", ErrProtocol)
	}

	ev := Event{
		Kind:           KindSpeech,
		Status:         *f.Status,
		Message:        f.Message,
		URL:            f.AudioURL,
		ProcessingTime: f.ProcessingTime,
		Raw:            append(json.RawMessage(nil), data...),
	}
	switch ev.Status {
	case "completed":
		if ev.URL == "" {
			return Event{}, fmt.Errorf("%w: completed speech frame missing audioUrl", ErrProtocol)
		}
		ev.Type = EventSuccess
	case "error":
		ev.Type = EventFailure
	default:
		// processing / generating / uploading 以及未知状态都按进度处理
		ev.Type = EventProgress
	}
	return ev, nil
}

func parseAgeFrame(data []byte) (Event, error) {
	var f ageFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return Event{}, fmt.Errorf("%w: decode age frame: %w", ErrProtocol, err)
	}
	if f.Type == nil {
		return Event{}, fmt.Errorf("%w: age frame missing type", ErrProtocol)
	}

	ev := Event{
		Kind:    KindAge,
		Status:  *f.Type,
		Message: f.Data.Message,
		Raw:     append(json.RawMessage(nil), data...),
	}
	ev.Type, ev.URL = classifyImageFrame(*f.Type, f.Data.FinalURL)
	if ev.Type == EventSuccess && ev.URL == "" {
		return Event{}, fmt.Errorf("%w: age result frame missing data.final_url", ErrProtocol)
	}
	return ev, nil
}

func parseBackgroundFrame(data []byte) (Event, error) {
	var f backgroundFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return Event{}, fmt.Errorf("%w: decode background frame: %w", ErrProtocol, err)
	}
	if f.Type == nil {
		return Event{}, fmt.Errorf("%w: background frame missing type", ErrProtocol)
	}

	ev := Event{
		Kind:    KindBackground,
		Status:  *f.Type,
		Message: f.Message,
		Raw:     append(json.RawMessage(nil), data...),
	}
	ev.Type, ev.URL = classifyImageFrame(*f.Type, f.ResultURL)
	if ev.Type == EventSuccess && ev.URL == "" {
		return Event{}, fmt.Errorf("%w: background result frame missing result_url", ErrProtocol)
	}
	return ev, nil
}

func classifyImageFrame(discriminator, url string) (EventType, string) {
	switch discriminator {
	case "result":
		return EventSuccess, url
	case "error":
		return EventFailure, url
	default:
		return EventProgress, url
	}
}
