package speechkit

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
	"triagecall/app/config"

	"github.com/samber/do"
	"github.com/yandex-cloud/go-genproto/yandex/cloud/ai/tts/v3"
	ycsdk "github.com/yandex-cloud/go-sdk"
	"github.com/yandex-cloud/go-sdk/iamkey"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/metadata"
)

const (
	ttsEndpoint = "tts.api.cloud.yandex.net:443"
	// refresh IAM tokens this long before they expire
	tokenSkew = 5 * time.Minute
)

var ErrNoAudio = errors.New("no audio synthesized")

var _ do.Shutdownable = (*YandexSpeechKit)(nil)

type YandexSpeechKit struct {
	cfg    config.SpeechKit
	sdk    *ycsdk.SDK
	conn   *grpc.ClientConn
	client tts.SynthesizerClient

	tokenMu      sync.Mutex
	token        string
	tokenExpires time.Time
}

func NewClient(di *do.Injector) (*YandexSpeechKit, error) {
	ctx := do.MustInvoke[context.Context](di)
	cfg := do.MustInvoke[*config.Config](di)

	keyBytes, err := os.ReadFile(cfg.SpeechKit.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("could not read service account key: %w", err)
	}

	var key iamkey.Key
	if err = json.Unmarshal(keyBytes, &key); err != nil {
		return nil, fmt.Errorf("could not parse service account key: %w", err)
	}

	creds, err := ycsdk.ServiceAccountKey(&key)
	if err != nil {
		return nil, fmt.Errorf("could not create service account key: %w", err)
	}

	sdk, err := ycsdk.Build(ctx, ycsdk.Config{
		Credentials: creds,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Yandex SDK: %w", err)
	}

	conn, err := grpc.NewClient(ttsEndpoint, grpc.WithTransportCredentials(credentials.NewTLS(&tls.Config{})))
	if err != nil {
		return nil, fmt.Errorf("failed to create tts connection: %w", err)
	}

	return &YandexSpeechKit{
		cfg:    cfg.SpeechKit,
		sdk:    sdk,
		conn:   conn,
		client: tts.NewSynthesizerClient(conn),
	}, nil
}

// Voice returns the configured voice of a language.
func (y *YandexSpeechKit) Voice(lang string) (string, bool) {
	voice, ok := y.cfg.Voices[lang]
	return voice, ok && voice != ""
}

// Synthesize renders text with voice as a WAV file.
func (y *YandexSpeechKit) Synthesize(ctx context.Context, text, voice string) ([]byte, error) {
	token, err := y.iamToken(ctx)
	if err != nil {
		return nil, err
	}

	ctx = metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+token)
	if y.cfg.FolderID != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, "x-folder-id", y.cfg.FolderID)
	}

	var hint tts.Hints
	hint.SetVoice(voice)

	var audioFormat tts.AudioFormatOptions
	audioFormat.SetContainerAudio(&tts.ContainerAudio{
		ContainerAudioType: tts.ContainerAudio_WAV,
	})

	var req tts.UtteranceSynthesisRequest
	req.SetText(text)
	req.Hints = []*tts.Hints{&hint}
	req.OutputAudioSpec = &audioFormat

	stream, err := y.client.UtteranceSynthesis(ctx, &req)
	if err != nil {
		return nil, fmt.Errorf("failed to start synthesis: %w", err)
	}

	var audio []byte
	for {
		res, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to receive tts: %w", err)
		}

		audio = append(audio, res.GetAudioChunk().GetData()...)
	}

	if len(audio) == 0 {
		return nil, ErrNoAudio
	}

	return audio, nil
}

func (y *YandexSpeechKit) iamToken(ctx context.Context) (string, error) {
	y.tokenMu.Lock()
	defer y.tokenMu.Unlock()

	if y.token != "" && time.Until(y.tokenExpires) > tokenSkew {
		return y.token, nil
	}

	res, err := y.sdk.CreateIAMToken(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to create IAM token: %w", err)
	}

	y.token = res.GetIamToken()
	y.tokenExpires = res.GetExpiresAt().AsTime()

	return y.token, nil
}

func (y *YandexSpeechKit) Shutdown() error {
	var errs []error

	if err := y.conn.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := y.sdk.Shutdown(context.Background()); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}
