package internal_telephony

import (
	"fmt"
	"sort"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
	"github.com/twilio/twilio-go/twiml"

	"github.com/ringbridge/pkg/commons"
)

// DialerConfig carries the provider credentials and where the media stream
// should connect back to.
type DialerConfig struct {
	AccountSid string
	AuthToken  string
	FromNumber string
	// StreamURL is the public wss:// URL of our /media-stream endpoint.
	StreamURL string
}

// Dialer places outbound calls that connect straight into the bridge.
type Dialer struct {
	logger commons.Logger
	client *twilio.RestClient
	config DialerConfig
}

func NewDialer(logger commons.Logger, config DialerConfig) *Dialer {
	return &Dialer{
		logger: logger,
		config: config,
		client: twilio.NewRestClientWithParams(twilio.ClientParams{
			Username: config.AccountSid,
			Password: config.AuthToken,
		}),
	}
}

// StreamTwiML renders the call instructions: connect the call's audio to our
// media stream endpoint, passing customParameters through to the start frame.
func (d *Dialer) StreamTwiML(customParameters map[string]string) (string, error) {
	keys := make([]string, 0, len(customParameters))
	for k := range customParameters {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parameters := make([]twiml.Element, 0, len(keys))
	for _, k := range keys {
		parameters = append(parameters, &twiml.VoiceParameter{
			Name:  k,
			Value: customParameters[k],
		})
	}

	stream := &twiml.VoiceStream{
		Url:           d.config.StreamURL,
		InnerElements: parameters,
	}
	connect := &twiml.VoiceConnect{
		InnerElements: []twiml.Element{stream},
	}

	doc, err := twiml.Voice([]twiml.Element{connect})
	if err != nil {
		return "", fmt.Errorf("failed to render stream twiml: %w", err)
	}
	return doc, nil
}

// Dial places an outbound call to the given number. The returned call sid
// will show up again in the media stream's start frame.
func (d *Dialer) Dial(to string, customParameters map[string]string) (string, error) {
	doc, err := d.StreamTwiML(customParameters)
	if err != nil {
		return "", err
	}

	params := &twilioApi.CreateCallParams{}
	params.SetTo(to)
	params.SetFrom(d.config.FromNumber)
	params.SetTwiml(doc)

	resp, err := d.client.Api.CreateCall(params)
	if err != nil {
		return "", commons.NewBridgeError(commons.ErrTransport, "failed to create outbound call", err)
	}
	if resp.Sid == nil {
		return "", commons.NewBridgeError(commons.ErrProtocol, "outbound call response missing sid", nil)
	}

	d.logger.Infow("Outbound call placed", "to", to, "callSid", *resp.Sid)
	return *resp.Sid, nil
}
