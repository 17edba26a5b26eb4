package jobs

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

// Kind 标识远端 AI 任务服务的类型，每种类型对应独立的连接地址与消息格式。
type Kind string

const (
	KindSpeech     Kind = "speech"
	KindAge        Kind = "age"
	KindBackground Kind = "background"
)

// Request 是一次任务的初始请求，连接建立后原样序列化为唯一的一帧发送。
type Request interface {
	Kind() Kind
	Envelope() any
}

// Emotion 是语音合成的 8 维情感权重，序列化顺序固定。
type Emotion struct {
	Happiness float64 `json:"happiness" yaml:"happiness"`
	Sadness   float64 `json:"sadness" yaml:"sadness"`
	Disgust   float64 `json:"disgust" yaml:"disgust"`
	Fear      float64 `json:"fear" yaml:"fear"`
	Surprise  float64 `json:"surprise" yaml:"surprise"`
	Anger     float64 `json:"anger" yaml:"anger"`
	Other     float64 `json:"other" yaml:"other"`
	Neutral   float64 `json:"neutral" yaml:"neutral"`
}

// DefaultEmotion mirrors the preset the web UI starts from.
var DefaultEmotion = Emotion{
	Happiness: 0.3077,
	Sadness:   0.0256,
	Disgust:   0.0256,
	Fear:      0.0256,
	Surprise:  0.0256,
	Anger:     0.0256,
	Other:     0.2564,
	Neutral:   0.3077,
}

// Vector returns the weights in wire order.
func (e Emotion) Vector() [8]float64 {
	return [8]float64{e.Happiness, e.Sadness, e.Disgust, e.Fear, e.Surprise, e.Anger, e.Other, e.Neutral}
}

// EmotionFromVector is the inverse of Vector.
func EmotionFromVector(v [8]float64) Emotion {
	return Emotion{
		Happiness: v[0],
		Sadness:   v[1],
		Disgust:   v[2],
		Fear:      v[3],
		Surprise:  v[4],
		Anger:     v[5],
		Other:     v[6],
		Neutral:   v[7],
	}
}

// SpeechRequest 描述一次语音合成任务。
type SpeechRequest struct {
	Text     string  `json:"text" validate:"required"`
	Speed    float64 `json:"speed" validate:"gte=0"`
	Language string  `json:"language" validate:"required"`
	Pitch    float64 `json:"pitch" validate:"gte=0"`
	Emotion  Emotion `json:"emotion"`
}

// DefaultSpeechRequest returns a request with the UI defaults for everything but the text.
func DefaultSpeechRequest(text string) SpeechRequest {
	return SpeechRequest{
		Text:     text,
		Speed:    15,
		Language: "en-us",
		Pitch:    20,
		Emotion:  DefaultEmotion,
	}
}

func (SpeechRequest) Kind() Kind { return KindSpeech }

type speechEnvelope struct {
	Text     string    `json:"text"`
	Speed    int       `json:"speed"`
	Language string    `json:"language"`
	Pitch    int       `json:"pitch"`
	Emotion  []float64 `json:"emotion"`
}

// Envelope 将速度、音高取整，情感权重保留 6 位小数。
func (r SpeechRequest) Envelope() any {
	vec := r.Emotion.Vector()
	emotion := make([]float64, len(vec))
	for i, v := range vec {
		emotion[i] = math.Round(v*1e6) / 1e6
	}
	return speechEnvelope{
		Text:     r.Text,
		Speed:    int(math.Floor(r.Speed)),
		Language: r.Language,
		Pitch:    int(math.Floor(r.Pitch)),
		Emotion:  emotion,
	}
}

// AgeRequest 描述一次年龄变换任务。TargetAge 的 [5, 80] 区间只在输入校验时约束。
type AgeRequest struct {
	ImageURL  string `json:"image_url" validate:"required,url"`
	TargetAge int    `json:"target_age" validate:"min=5,max=80"`
}

func (AgeRequest) Kind() Kind { return KindAge }

type ageEnvelope struct {
	Type string          `json:"type"`
	Data ageEnvelopeData `json:"data"`
}

type ageEnvelopeData struct {
	ImageURL  string `json:"image_url"`
	TargetAge int    `json:"target_age"`
}

func (r AgeRequest) Envelope() any {
	return ageEnvelope{
		Type: "process_image",
		Data: ageEnvelopeData{ImageURL: r.ImageURL, TargetAge: r.TargetAge},
	}
}

// BackgroundRequest 描述一次背景替换任务。
type BackgroundRequest struct {
	ForegroundURL string `json:"foreground_url" validate:"required,url"`
	BackgroundURL string `json:"background_url" validate:"required,url"`
}

func (BackgroundRequest) Kind() Kind { return KindBackground }

func (r BackgroundRequest) Envelope() any {
	return r
}

// ParseKind accepts speech, age or background.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case KindSpeech, KindAge, KindBackground:
		return k, nil
	default:
		return "", fmt.Errorf("unknown job kind %q", s)
	}
}

// DecodeRequest 按类型解析 JSON 请求体；语音请求缺省字段取界面默认值。
func DecodeRequest(kind Kind, raw []byte) (Request, error) {
	var (
		req Request
		err error
	)
	switch kind {
	case KindSpeech:
		r := DefaultSpeechRequest("")
		err = json.Unmarshal(raw, &r)
		req = r
	case KindAge:
		var r AgeRequest
		err = json.Unmarshal(raw, &r)
		req = r
	case KindBackground:
		var r BackgroundRequest
		err = json.Unmarshal(raw, &r)
		req = r
	default:
		return nil, fmt.Errorf("unknown job kind %q", kind)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s request: %w", kind, err)
	}
	return req, nil
}
