package protocol

import "time"

// AudioFrame carries interleaved little-endian float32 PCM published by a
// remote capture node.
type AudioFrame struct {
	SessionID  string `json:"session_id"`
	Sequence   int    `json:"sequence"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
	Encoding   string `json:"encoding"`
	PCM        []byte `json:"pcm"`
	Final      bool   `json:"final"`
}

// CaptionDraft is the provisional caption for in-progress speech.
type CaptionDraft struct {
	SessionID          string    `json:"session_id"`
	SourceText         string    `json:"source_text"`
	TranslatedText     string    `json:"translated_text"`
	TranslationPending bool      `json:"translation_pending"`
	Timestamp          time.Time `json:"timestamp"`
}

// CaptionCommit is a finalized utterance.
type CaptionCommit struct {
	SessionID      string    `json:"session_id"`
	UtteranceID    string    `json:"utterance_id"`
	SourceText     string    `json:"source_text"`
	TranslatedText string    `json:"translated_text"`
	Timestamp      time.Time `json:"timestamp"`
}

// CaptionClear announces that a session was wiped and replaced.
type CaptionClear struct {
	SessionID         string    `json:"session_id"`
	PreviousSessionID string    `json:"previous_session_id"`
	Timestamp         time.Time `json:"timestamp"`
}

// ClearReply answers a remote clear request.
type ClearReply struct {
	Status    string `json:"status"`
	SessionID string `json:"session_id"`
}

const (
	EncodingFloat32LE = "f32le"

	SubjectAudioFramePrefix = "audio.frame"
	SubjectCaptionDraft     = "caption.draft"
	SubjectCaptionCommit    = "caption.commit"
	SubjectCaptionClear     = "caption.clear"
	SubjectControlClear     = "caption.ctrl.clear"
)

// AudioFrameSubject is the subject a capture node publishes session frames on.
func AudioFrameSubject(session string) string {
	return SubjectAudioFramePrefix + "." + session
}
