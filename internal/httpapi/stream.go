package httpapi

import (
	"encoding/binary"
	"errors"
	"math"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/labstack/echo/v4"
)

// handleStream upgrades to a WebSocket and runs a realtime denoising
// session. Binary messages carry little-endian 16-bit mono PCM at the
// configured sample rate; each inbound chunk yields zero or more binary
// replies with the denoised samples that became ready. The text message
// "flush" drains the buffered tail and ends the signal cleanly.
func (s *Server) handleStream(c echo.Context) error {
	stream, err := s.engine.OpenStream()
	if err != nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{
			"error": "model not loaded",
		})
	}
	defer stream.Close()

	conn, err := websocket.Accept(c.Response(), c.Request(), nil)
	if err != nil {
		return nil // Accept already wrote the handshake failure
	}
	defer conn.Close(websocket.StatusInternalError, "session ended")

	ctx := c.Request().Context()
	start := time.Now()
	var runErr error
	defer func() { s.engine.RecordRun(ctx, "stream", time.Since(start), runErr) }()

	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
				return nil
			}
			if errors.Is(err, ctx.Err()) {
				return nil
			}
			runErr = err
			return nil
		}

		switch typ {
		case websocket.MessageBinary:
			out, err := stream.Write(ctx, pcmToFloat(data))
			if err != nil {
				runErr = err
				s.log.Error("stream write failed", "err", err)
				conn.Close(websocket.StatusInternalError, "frame evaluation failed")
				return nil
			}
			if len(out) > 0 {
				if err := conn.Write(ctx, websocket.MessageBinary, floatToPCM(out)); err != nil {
					runErr = err
					return nil
				}
			}

		case websocket.MessageText:
			if string(data) != "flush" {
				continue
			}
			out, err := stream.Flush(ctx)
			if err != nil {
				runErr = err
				conn.Close(websocket.StatusInternalError, "flush failed")
				return nil
			}
			if len(out) > 0 {
				if err := conn.Write(ctx, websocket.MessageBinary, floatToPCM(out)); err != nil {
					runErr = err
					return nil
				}
			}
			conn.Close(websocket.StatusNormalClosure, "flushed")
			return nil
		}
	}
}

// pcmToFloat decodes little-endian int16 samples into [-1, 1) floats. A
// trailing odd byte is dropped.
func pcmToFloat(data []byte) []float32 {
	n := len(data) / 2
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		v := int16(binary.LittleEndian.Uint16(data[i*2:]))
		out[i] = float32(v) / 32768
	}
	return out
}

// floatToPCM encodes floats as little-endian int16, clipping out-of-range
// values.
func floatToPCM(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, v := range samples {
		f := math.Round(float64(v) * 32767)
		if f > 32767 {
			f = 32767
		} else if f < -32768 {
			f = -32768
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(f)))
	}
	return out
}
