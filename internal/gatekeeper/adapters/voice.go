package adapters

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/polly"
	pollytypes "github.com/aws/aws-sdk-go-v2/service/polly/types"
	"github.com/aws/smithy-go"

	"github.com/BrandonDHaskell/Portunus/gatekeeper/internal/gatekeeper/service"
)

// ErrVoiceThrottled is returned when Polly rejects a request for rate.
var ErrVoiceThrottled = errors.New("voice synthesis throttled")

type synthClient interface {
	SynthesizeSpeech(ctx context.Context, params *polly.SynthesizeSpeechInput, optFns ...func(*polly.Options)) (*polly.SynthesizeSpeechOutput, error)
}

// VoiceConfig configures a VoiceNotifier.
type VoiceConfig struct {
	PBXURL string
	Region string // default us-east-1
	Voice  string // default Lupe
	Engine string // "neural" or "standard", default neural
}

// VoiceNotifier calls the resident: the prompt is synthesized with Amazon
// Polly and handed to the PBX, which places the call and posts the
// keypad answer to the callback endpoint.
type VoiceNotifier struct {
	mu     sync.Mutex
	client synthClient
	cfg    VoiceConfig
	pbx    jsonClient
}

func NewVoiceNotifier(cfg VoiceConfig, hc *http.Client) *VoiceNotifier {
	return newVoiceNotifier(cfg, hc, nil)
}

func newVoiceNotifier(cfg VoiceConfig, hc *http.Client, client synthClient) *VoiceNotifier {
	if strings.TrimSpace(cfg.Region) == "" {
		cfg.Region = "us-east-1"
	}
	if strings.TrimSpace(cfg.Voice) == "" {
		cfg.Voice = "Lupe"
	}
	if strings.TrimSpace(cfg.Engine) == "" {
		cfg.Engine = "neural"
	}
	return &VoiceNotifier{client: client, cfg: cfg, pbx: newJSONClient(cfg.PBXURL, hc)}
}

func (v *VoiceNotifier) resolveClient(ctx context.Context) (synthClient, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.client != nil {
		return v.client, nil
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(v.cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	v.client = polly.NewFromConfig(awsCfg)
	return v.client, nil
}

func prompt(n service.Notification) string {
	name := strings.TrimSpace(n.VisitorName)
	if name == "" {
		name = "A visitor"
	}
	return fmt.Sprintf("%s is at the gate for unit %s. Press 1 to let them in, or 2 to deny.", name, n.Unit)
}

func (v *VoiceNotifier) synthesize(ctx context.Context, text string) ([]byte, error) {
	client, err := v.resolveClient(ctx)
	if err != nil {
		return nil, err
	}
	engine := pollytypes.EngineStandard
	if strings.EqualFold(v.cfg.Engine, "neural") {
		engine = pollytypes.EngineNeural
	}
	out, err := client.SynthesizeSpeech(ctx, &polly.SynthesizeSpeechInput{
		Engine:       engine,
		OutputFormat: pollytypes.OutputFormatMp3,
		Text:         aws.String(text),
		TextType:     pollytypes.TextTypeText,
		VoiceId:      pollytypes.VoiceId(v.cfg.Voice),
	})
	if err != nil {
		return nil, pollyError(err)
	}
	if out == nil || out.AudioStream == nil {
		return nil, errors.New("polly returned no audio")
	}
	defer out.AudioStream.Close()
	return io.ReadAll(out.AudioStream)
}

func pollyError(err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		if apiErr.ErrorCode() == "TooManyRequestsException" || apiErr.ErrorCode() == "ThrottlingException" {
			return fmt.Errorf("%w: %s", ErrVoiceThrottled, apiErr.ErrorMessage())
		}
		return fmt.Errorf("polly %s: %s", apiErr.ErrorCode(), apiErr.ErrorMessage())
	}
	return fmt.Errorf("polly: %w", err)
}

func (v *VoiceNotifier) NotifyResident(ctx context.Context, n service.Notification) (bool, error) {
	if v.pbx.base == "" {
		return false, ErrNotConfigured
	}
	if strings.TrimSpace(n.Phone) == "" {
		return false, errors.New("voice: resident phone is empty")
	}
	audio, err := v.synthesize(ctx, prompt(n))
	if err != nil {
		return false, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.pbx.base+"/v1/calls", bytes.NewReader(audio))
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "audio/mpeg")
	req.Header.Set("X-Call-To", n.Phone)
	req.Header.Set("X-Session-ID", n.SessionID)
	req.Header.Set("X-Unit", n.Unit)

	var out struct {
		Queued bool `json:"queued"`
	}
	if err := v.pbx.do(req, &out); err != nil {
		return false, err
	}
	return out.Queued, nil
}
