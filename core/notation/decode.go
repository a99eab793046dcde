package notation

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/ulikunitz/xz"

	ferrors "github.com/jinjin-jara/violin-fingering/core/errors"
	"github.com/jinjin-jara/violin-fingering/core/diag"
	"github.com/jinjin-jara/violin-fingering/core/xml"
)

// MaxDocumentBytes bounds every read of a document, before and after
// decompression.
const MaxDocumentBytes = 32 << 20

// maxContainerDepth bounds nested containers (an xz-compressed .mxl, say).
const maxContainerDepth = 2

var (
	xzMagic  = []byte{0xFD, '7', 'z', 'X', 'Z', 0x00}
	zipMagic = []byte{'P', 'K', 0x03, 0x04}
	utf8BOM  = []byte{0xEF, 0xBB, 0xBF}
)

// Decode turns raw recognition output into a loose tree. name is only used in
// messages. Empty input fails with ErrNoOutput; anything that is not a
// readable XML, JSON, xz or MusicXML zip document fails with ErrMalformed.
func Decode(name string, data []byte, log *diag.Log) (any, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		log.Addf(diag.StageDecode, "%s: document is empty", name)
		return nil, ferrors.Wrapf(ferrors.ErrNoOutput, "%s is empty", name)
	}
	if len(data) > MaxDocumentBytes {
		log.Addf(diag.StageDecode, "%s: %s exceeds the %s limit", name,
			humanize.IBytes(uint64(len(data))), humanize.IBytes(MaxDocumentBytes))
		return nil, ferrors.NewParse("document", name, "document too large")
	}
	log.Addf(diag.StageDecode, "%s: read %s", name, humanize.IBytes(uint64(len(data))))
	return decode(name, data, log, 0)
}

func decode(name string, data []byte, log *diag.Log, depth int) (any, error) {
	switch {
	case bytes.HasPrefix(data, xzMagic):
		return decodeContainer(name, data, log, depth, unxz)
	case bytes.HasPrefix(data, zipMagic):
		return decodeContainer(name, data, log, depth, unzipScore)
	}

	body := bytes.TrimLeft(bytes.TrimPrefix(data, utf8BOM), " \t\r\n")
	if len(body) == 0 {
		log.Addf(diag.StageDecode, "%s: payload is blank", name)
		return nil, ferrors.Wrapf(ferrors.ErrNoOutput, "%s has a blank payload", name)
	}
	switch body[0] {
	case '<':
		return decodeXML(name, body, log)
	case '{', '[':
		return decodeJSON(name, body, log)
	}
	log.Addf(diag.StageDecode, "%s: unrecognized leading byte %q", name, body[0])
	return nil, ferrors.NewParse("document", name, "not XML, JSON or a known container")
}

type unwrapFunc func(name string, data []byte, log *diag.Log) (string, []byte, error)

func decodeContainer(name string, data []byte, log *diag.Log, depth int, unwrap unwrapFunc) (any, error) {
	if depth >= maxContainerDepth {
		log.Addf(diag.StageDecode, "%s: containers nested too deeply", name)
		return nil, ferrors.NewParse("document", name, "containers nested too deeply")
	}
	inner, payload, err := unwrap(name, data, log)
	if err != nil {
		return nil, err
	}
	log.Addf(diag.StageDecode, "%s: unpacked %s (%s)", name, inner, humanize.IBytes(uint64(len(payload))))
	return decode(inner, payload, log, depth+1)
}

func unxz(name string, data []byte, log *diag.Log) (string, []byte, error) {
	r, err := xz.NewReader(bytes.NewReader(data))
	if err != nil {
		log.Addf(diag.StageDecode, "%s: xz header: %v", name, err)
		return "", nil, ferrors.NewParse("xz", name, err.Error())
	}
	payload, err := readBounded(r)
	if err != nil {
		log.Addf(diag.StageDecode, "%s: xz stream: %v", name, err)
		return "", nil, ferrors.NewParse("xz", name, err.Error())
	}
	return strings.TrimSuffix(name, ".xz"), payload, nil
}

// unzipScore extracts the score file from a compressed MusicXML (.mxl)
// archive: the rootfile named in META-INF/container.xml, else the first XML
// entry outside META-INF.
func unzipScore(name string, data []byte, log *diag.Log) (string, []byte, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		log.Addf(diag.StageDecode, "%s: zip directory: %v", name, err)
		return "", nil, ferrors.NewParse("mxl", name, err.Error())
	}

	files := make(map[string]*zip.File, len(zr.File))
	for _, f := range zr.File {
		files[f.Name] = f
	}

	target := ""
	if f, ok := files["META-INF/container.xml"]; ok {
		target = rootfilePath(f, log)
	}
	if target == "" {
		for _, f := range zr.File {
			ext := strings.ToLower(path.Ext(f.Name))
			if strings.HasPrefix(f.Name, "META-INF/") || (ext != ".xml" && ext != ".musicxml") {
				continue
			}
			target = f.Name
			break
		}
	}
	f, ok := files[target]
	if target == "" || !ok {
		log.Addf(diag.StageDecode, "%s: no score entry among %d files", name, len(zr.File))
		return "", nil, ferrors.NewParse("mxl", name, "no score entry in archive")
	}

	payload, err := readZipEntry(f)
	if err != nil {
		log.Addf(diag.StageDecode, "%s: reading %s: %v", name, target, err)
		return "", nil, ferrors.NewParse("mxl", name, err.Error())
	}
	return target, payload, nil
}

func rootfilePath(f *zip.File, log *diag.Log) string {
	data, err := readZipEntry(f)
	if err != nil {
		log.Addf(diag.StageDecode, "container.xml unreadable: %v", err)
		return ""
	}
	doc, err := xml.Parse(data)
	if err != nil {
		log.Addf(diag.StageDecode, "container.xml malformed: %v", err)
		return ""
	}
	container, _ := child(doc.Tree(), "container")
	rootfiles, _ := child(container, "rootfiles")
	for _, rf := range children(rootfiles, "rootfile") {
		if p, ok := attr(rf, "full-path"); ok && p != "" {
			return p
		}
	}
	return ""
}

func readZipEntry(f *zip.File) ([]byte, error) {
	if f.UncompressedSize64 > MaxDocumentBytes {
		return nil, fmt.Errorf("entry is %s, limit is %s",
			humanize.IBytes(f.UncompressedSize64), humanize.IBytes(MaxDocumentBytes))
	}
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return readBounded(rc)
}

// readBounded reads at most MaxDocumentBytes and fails if there is more.
func readBounded(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxDocumentBytes+1))
	if err != nil {
		return nil, err
	}
	if len(data) > MaxDocumentBytes {
		return nil, fmt.Errorf("decompressed size exceeds %s", humanize.IBytes(MaxDocumentBytes))
	}
	return data, nil
}

func decodeXML(name string, data []byte, log *diag.Log) (any, error) {
	if res := xml.Validate(data); !res.Valid {
		for _, e := range res.Errors {
			log.Addf(diag.StageDecode, "%s: XML error at byte %d: %s", name, e.Offset, e.Message)
		}
		return nil, ferrors.NewParse("MusicXML", name, "document is not well-formed")
	}
	doc, err := xml.Parse(data)
	if err != nil {
		log.Addf(diag.StageDecode, "%s: %v", name, err)
		return nil, ferrors.NewParse("MusicXML", name, err.Error())
	}
	if n, err := doc.CountLocal("note"); err == nil {
		slog.Debug("decoded MusicXML", "name", name, "notes", n, "size", humanize.IBytes(uint64(len(data))))
	}
	return doc.Tree(), nil
}

func decodeJSON(name string, data []byte, log *diag.Log) (any, error) {
	var tree any
	if err := json.Unmarshal(data, &tree); err != nil {
		log.Addf(diag.StageDecode, "%s: %v", name, err)
		return nil, ferrors.NewParse("JSON", name, err.Error())
	}
	slog.Debug("decoded JSON document", "name", name, "size", humanize.IBytes(uint64(len(data))))
	return tree, nil
}
