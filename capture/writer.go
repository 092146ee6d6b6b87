package capture

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

// PcapWriter writes frames to a pcapng file
type PcapWriter struct {
	file     *os.File
	writer   *pcapgo.NgWriter
	mu       sync.Mutex
	count    int
	filename string
	closed   bool
}

// NewPcapWriter creates a pcapng file with a single Ethernet interface.
func NewPcapWriter(filename string) (*PcapWriter, error) {
	file, err := os.Create(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to create file %s: %w", filename, err)
	}

	writer, err := pcapgo.NewNgWriterInterface(file, pcapgo.NgInterface{
		Name:       "pktcanalyzer",
		LinkType:   layers.LinkTypeEthernet,
		SnapLength: 65536,
	}, pcapgo.NgWriterOptions{
		SectionInfo: pcapgo.NgSectionInfo{
			Application: "pktcanalyzer",
		},
	})
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to create pcapng writer: %w", err)
	}

	return &PcapWriter{
		file:     file,
		writer:   writer,
		filename: filename,
	}, nil
}

// WriteFrame writes one Ethernet frame captured at ts.
func (w *PcapWriter) WriteFrame(ts time.Time, frame []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fmt.Errorf("writer is closed")
	}

	ci := gopacket.CaptureInfo{
		Timestamp:     ts,
		CaptureLength: len(frame),
		Length:        len(frame),
	}
	if err := w.writer.WritePacket(ci, frame); err != nil {
		return fmt.Errorf("failed to write packet: %w", err)
	}

	w.count++
	return nil
}

// WritePacket writes the raw frame of a previously read packet.
func (w *PcapWriter) WritePacket(pkt *PacketInfo) error {
	if len(pkt.RawData) == 0 {
		return nil
	}
	return w.WriteFrame(pkt.Timestamp, pkt.RawData)
}

// WriteMessage wraps an encoded PKTC message in Ethernet/IPv4/UDP and
// writes it.
func (w *PcapWriter) WriteMessage(ts time.Time, message []byte, opts FrameOptions) error {
	frame, err := BuildFrame(message, opts)
	if err != nil {
		return err
	}
	return w.WriteFrame(ts, frame)
}

// Close flushes and closes the underlying file
func (w *PcapWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	if err := w.writer.Flush(); err != nil {
		w.file.Close()
		return fmt.Errorf("failed to flush: %w", err)
	}
	return w.file.Close()
}

// Count returns the number of frames written
func (w *PcapWriter) Count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.count
}

// Filename returns the output filename
func (w *PcapWriter) Filename() string {
	return w.filename
}

// SavePackets writes packets to a new file.
func SavePackets(filename string, packets []PacketInfo) (int, error) {
	if len(packets) == 0 {
		return 0, fmt.Errorf("no packets to save")
	}

	writer, err := NewPcapWriter(filename)
	if err != nil {
		return 0, err
	}

	written := 0
	for i := range packets {
		if err := writer.WritePacket(&packets[i]); err != nil {
			writer.Close()
			return written, err
		}
		written++
	}
	return written, writer.Close()
}
