package main

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/binary"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/pixvoice/pixvoice/audio"
	"github.com/pixvoice/pixvoice/client"
	"github.com/pixvoice/pixvoice/editflow"
	"github.com/pixvoice/pixvoice/functions"
	"github.com/pixvoice/pixvoice/messages"
	"github.com/pixvoice/pixvoice/transcript"
)

// soxSink plays PCM through a sox pipe. Requires sox to be installed:
//
//	brew install sox    (macOS)
//	apt install sox     (Linux)
type soxSink struct {
	mu    sync.Mutex
	cmd   *exec.Cmd
	stdin io.WriteCloser
	rate  int
}

func newSoxSink() *soxSink {
	return &soxSink{}
}

func (p *soxSink) start(rate int) error {
	cmd := exec.Command("sox",
		"-t", "raw",
		"-r", fmt.Sprintf("%d", rate),
		"-b", "16",
		"-c", "1",
		"-e", "signed-integer",
		"-", "-d",
	)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return err
	}
	p.cmd = cmd
	p.stdin = stdin
	p.rate = rate
	return nil
}

func (p *soxSink) Play(samples []float32, rate int, _ time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cmd == nil || p.rate != rate {
		p.stopLocked()
		if err := p.start(rate); err != nil {
			log.Printf("Failed to start sox: %v", err)
			return
		}
	}

	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(int16(s*32767)))
	}
	if _, err := p.stdin.Write(buf); err != nil {
		log.Printf("Audio write error: %v", err)
		p.stopLocked()
	}
}

func (p *soxSink) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked()
}

func (p *soxSink) stopLocked() {
	if p.cmd == nil {
		return
	}
	p.stdin.Close()
	p.cmd.Process.Kill()
	p.cmd.Wait()
	p.cmd = nil
	p.stdin = nil
}

// fileSource replays a PCM or WAV file as paced capture frames, simulating a
// microphone. After the file drains it blocks until Close.
type fileSource struct {
	samples []float32
	pos     int
	frame   int
	pace    time.Duration
	done    chan struct{}
	once    sync.Once
}

func newFileSource(path string) (*fileSource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	// Standard 44-byte WAV header; anything else is treated as raw PCM.
	if len(data) > 44 && string(data[0:4]) == "RIFF" {
		data = data[44:]
	}
	samples := make([]float32, len(data)/2)
	for i := range samples {
		samples[i] = float32(int16(binary.LittleEndian.Uint16(data[i*2:]))) / 32768
	}
	frame := audio.CaptureRate / 50 // 20ms
	return &fileSource{
		samples: samples,
		frame:   frame,
		pace:    20 * time.Millisecond,
		done:    make(chan struct{}),
	}, nil
}

func (f *fileSource) ReadFrame() ([]float32, error) {
	if f.pos >= len(f.samples) {
		<-f.done
		return nil, io.EOF
	}
	end := f.pos + f.frame
	if end > len(f.samples) {
		end = len(f.samples)
	}
	frame := f.samples[f.pos:end]
	f.pos = end
	time.Sleep(f.pace)
	return frame, nil
}

func (f *fileSource) Close() error {
	f.once.Do(func() { close(f.done) })
	return nil
}

// flowSession bridges the edit flow to the live session, reopening capture
// from a fresh source when an edit finishes.
type flowSession struct {
	sess      *client.Session
	newSource func() (client.Source, error)
}

func (fs *flowSession) ConfirmEdit(instruction, imageBase64, mimeType string) {
	fs.sess.ConfirmEdit(instruction, imageBase64, mimeType)
}

func (fs *flowSession) CancelEditConfirm() {
	fs.sess.CancelEditConfirm()
}

func (fs *flowSession) StopAudioInput() {
	fs.sess.StopAudioInput()
}

func (fs *flowSession) StartAudioInput() error {
	if fs.newSource == nil {
		return nil
	}
	src, err := fs.newSource()
	if err != nil {
		return err
	}
	return fs.sess.StartAudioInput(src)
}

// convoState is the conversation state shared between the session's callback
// goroutine and the stdin loop. All access goes through its methods.
type convoState struct {
	mu    sync.Mutex
	sess  *client.Session
	flow  *editflow.Flow
	image editflow.Image
	edits int
}

func (c *convoState) wire(sess *client.Session, flow *editflow.Flow) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sess = sess
	c.flow = flow
}

// handles returns the session, flow, and current image together so a callback
// sees one consistent snapshot.
func (c *convoState) handles() (*client.Session, *editflow.Flow, editflow.Image) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess, c.flow, c.image
}

func (c *convoState) currentImage() editflow.Image {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.image
}

func (c *convoState) setImage(img editflow.Image) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.image = img
}

// recordEdit installs the edited image as current and returns the edit count.
func (c *convoState) recordEdit(img editflow.Image) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.image = img
	c.edits++
	return c.edits
}

func mimeFromPath(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		return "image/png"
	case ".webp":
		return "image/webp"
	default:
		return "image/jpeg"
	}
}

func main() {
	serverURL := flag.String("server", "ws://localhost:8080/ws", "Relay WebSocket URL")
	directURL := flag.String("direct-url", "", "Direct upstream URL used when the relay is unreachable")
	tokenURL := flag.String("token-url", "", "Ephemeral token endpoint for the direct fallback")
	imagePath := flag.String("image", "", "Photo to talk about (jpeg/png/webp)")
	audioPath := flag.String("audio", "", "PCM or WAV file streamed as microphone input")
	voice := flag.String("voice", "", "Voice name for spoken responses")
	flag.Parse()

	state := &convoState{}
	if *imagePath != "" {
		data, err := os.ReadFile(*imagePath)
		if err != nil {
			log.Fatalf("Failed to read image: %v", err)
		}
		state.setImage(editflow.Image{
			Base64:   base64.StdEncoding.EncodeToString(data),
			MimeType: mimeFromPath(*imagePath),
		})
		log.Printf("🖼️ Loaded %s (%d bytes)", *imagePath, len(data))
	}

	sink := newSoxSink()
	defer sink.Stop()

	cfg := client.Config{
		URL:          *serverURL,
		Voice:        *voice,
		SystemPrompt: client.DefaultSystemPrompt,
		Tools:        functions.PhotoEditTools(),
		Sink:         sink,
	}

	cb := client.Callbacks{
		OnTranscript: func(ev transcript.Event) {
			if !ev.IsFinal {
				return
			}
			switch ev.Role {
			case transcript.RoleUser:
				fmt.Printf("🎤 You: %s\n", ev.Text)
			case transcript.RoleAI:
				fmt.Printf("💬 Assistant: %s\n", ev.Text)
			}
		},
		OnTurnComplete: func() {
			log.Println("--- Turn complete ---")
		},
		OnToolCall: func(call *messages.ToolCall) {
			sess, flow, img := state.handles()
			if sess == nil || flow == nil {
				return
			}
			for _, fc := range call.FunctionCalls {
				if fc.Name != functions.PhotoEditFunctionName {
					continue
				}
				instruction, _ := fc.Args["instruction"].(string)
				sess.SendToolResult([]messages.FunctionResponse{functions.PhotoEditAck(fc.ID)})
				flow.Propose(instruction, img)
				fmt.Printf("✏️ Edit proposed: %q, confirm? (yes/no)\n", instruction)
			}
		},
		OnAppEvent: func(ev *messages.AppEvent) {
			_, flow, _ := state.handles()
			if flow == nil {
				return
			}
			switch ev.Type {
			case messages.EventEditStatus:
				log.Printf("🛠️ Edit status: %s", ev.Status)
			case messages.EventEditCompleted:
				n := state.recordEdit(editflow.Image{Base64: ev.ImageBase64, MimeType: ev.MimeType})
				if path, err := saveEditedImage(ev, n); err != nil {
					log.Printf("Failed to save edited image: %v", err)
				} else {
					log.Printf("✅ Edit %s complete, saved to %s", ev.Version, path)
				}
			case messages.EventEditFailed:
				log.Printf("❌ Edit failed: %s (say yes to retry, no to drop it)", ev.Error)
			case messages.EventEditConfirmCancelled:
				log.Println("🚫 Edit cancelled")
			}
			flow.HandleAppEvent(ev, state.currentImage())
		},
		OnError: func(err error) {
			log.Printf("❌ %v", err)
		},
	}

	ctx := context.Background()
	var sess *client.Session
	var err error
	if *tokenURL != "" && *directURL != "" {
		sess, err = client.ConnectWithFallback(ctx, cfg, cb, client.Fallback{
			ProxyURL:  *serverURL,
			DirectURL: *directURL,
			TokenURL:  *tokenURL,
		})
	} else {
		sess = client.New(cfg, cb)
		err = sess.Connect(ctx)
	}
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	log.Println("✅ Connected!")
	defer sess.Disconnect()

	var newSource func() (client.Source, error)
	if *audioPath != "" {
		newSource = func() (client.Source, error) { return newFileSource(*audioPath) }
	}
	flow := editflow.New(&flowSession{sess: sess, newSource: newSource})
	state.wire(sess, flow)

	if img := state.currentImage(); img.Base64 != "" {
		sess.SendImage(img.Base64, img.MimeType, "Here is my photo. Take a look.")
	}

	if *audioPath != "" {
		src, err := newFileSource(*audioPath)
		if err != nil {
			log.Fatalf("Failed to load audio: %v", err)
		}
		if err := sess.StartAudioInput(src); err != nil {
			log.Fatalf("Failed to start audio input: %v", err)
		}
		log.Printf("📤 Streaming %s as microphone input", *audioPath)
	}

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	// Stdin drives the text side: plain messages, plus yes/no for pending
	// edit confirmations.
	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- strings.TrimSpace(scanner.Text())
		}
		close(lines)
	}()

	fmt.Println("Type to talk, 'yes'/'no' to answer edit prompts, 'quit' to exit.")
	for {
		select {
		case line, ok := <-lines:
			if !ok {
				return
			}
			switch strings.ToLower(line) {
			case "":
			case "quit", "exit":
				return
			case "yes", "y", "confirm":
				flow.Confirm()
			case "no", "n", "cancel":
				flow.Cancel()
			default:
				if instruction, ok := editflow.DetectEditIntent(line); ok {
					if img := state.currentImage(); img.Base64 != "" {
						flow.Propose(instruction, img)
						fmt.Printf("✏️ Edit proposed: %q, confirm? (yes/no)\n", instruction)
						continue
					}
				}
				sess.SendText(line)
			}
		case <-interrupt:
			log.Println("\n👋 Interrupted, closing...")
			return
		case <-sess.Done():
			log.Println("Connection closed")
			return
		}
	}
}

func saveEditedImage(ev *messages.AppEvent, n int) (string, error) {
	data, err := base64.StdEncoding.DecodeString(ev.ImageBase64)
	if err != nil {
		return "", err
	}
	ext := ".png"
	if strings.Contains(ev.MimeType, "jpeg") {
		ext = ".jpg"
	}
	path := fmt.Sprintf("edited_%d%s", n, ext)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}
	return path, nil
}
