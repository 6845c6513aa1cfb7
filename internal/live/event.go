// Package live implements the push channel that delivers post events for the
// community a view is subscribed to.
package live

import (
	"errors"
	"fmt"

	"discussify/internal/models"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// EventKind names the two post events the channel carries.
type EventKind string

const (
	PostCreated EventKind = "newPost"
	PostUpdated EventKind = "postUpdated"
)

// Control frame types sent by clients.
const (
	FrameJoin  = "joinCommunity"
	FrameLeave = "leaveCommunity"
)

var (
	// ErrClosed is reported by subscriptions whose channel was closed by its owner.
	ErrClosed = errors.New("live channel closed")
	// ErrDisconnected is reported by subscriptions whose connection dropped.
	ErrDisconnected = errors.New("live channel disconnected")
)

// Event is a post snapshot pushed for one community.
type Event struct {
	Kind        EventKind
	CommunityID string
	Post        models.Post
}

// Envelope is the wire form of every frame on the channel.
type Envelope struct {
	Type      string              `json:"type"`
	Community string              `json:"community,omitempty"`
	Payload   jsoniter.RawMessage `json:"payload,omitempty"`
}

// EncodeEvent serialises an event into its envelope.
func EncodeEvent(ev Event) ([]byte, error) {
	payload, err := json.Marshal(ev.Post)
	if err != nil {
		return nil, fmt.Errorf("marshal post: %w", err)
	}
	community := ev.CommunityID
	if community == "" {
		community = ev.Post.CommunityID
	}
	return json.Marshal(Envelope{Type: string(ev.Kind), Community: community, Payload: payload})
}

// DecodeEvent parses a frame. ok is false for frames that are not post events.
func DecodeEvent(data []byte) (ev Event, ok bool, err error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Event{}, false, fmt.Errorf("unmarshal envelope: %w", err)
	}
	kind := EventKind(env.Type)
	if kind != PostCreated && kind != PostUpdated {
		return Event{}, false, nil
	}
	var post models.Post
	if err := json.Unmarshal(env.Payload, &post); err != nil {
		return Event{}, false, fmt.Errorf("unmarshal %s payload: %w", kind, err)
	}
	community := env.Community
	if community == "" {
		community = post.CommunityID
	}
	return Event{Kind: kind, CommunityID: community, Post: post}, true, nil
}

// ControlFrame builds a join or leave frame.
func ControlFrame(frameType, communityID string) ([]byte, error) {
	return json.Marshal(Envelope{Type: frameType, Community: communityID})
}

// DecodeEnvelope parses any frame without interpreting its payload.
func DecodeEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("unmarshal envelope: %w", err)
	}
	return env, nil
}

// CommunityChannel derives the Redis channel name for a community's post events.
func CommunityChannel(communityID string) string {
	return "community:" + communityID + ":posts"
}
