package dto

// PubSubPushMessage is the inner message of a Pub/Sub push delivery. Data is
// base64 in transit; encoding/json decodes it into the byte slice.
type PubSubPushMessage struct {
	Data       []byte            `json:"data"`
	MessageID  string            `json:"messageId"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// PubSubPushRequest is the envelope Pub/Sub POSTs to a push endpoint.
type PubSubPushRequest struct {
	Message      PubSubPushMessage `json:"message"`
	Subscription string            `json:"subscription"`
}
