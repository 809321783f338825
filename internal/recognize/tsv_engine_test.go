package recognize

import (
	"context"
	"image"
	"strconv"
	"strings"
	"testing"

	"github.com/tablewise/invoice-pipeline/internal/entity"
)

const tsvHeader = "level\tpage_num\tblock_num\tpar_num\tline_num\tword_num\tleft\ttop\twidth\theight\tconf\ttext"

func tsvRow(level, left, top, width, height int, conf, text string) string {
	return strings.Join([]string{
		strconv.Itoa(level), "1", "1", "1", "1", "1",
		strconv.Itoa(left), strconv.Itoa(top), strconv.Itoa(width), strconv.Itoa(height),
		conf, text,
	}, "\t")
}

func TestParseTSV(t *testing.T) {
	region := entity.Region{
		Type: entity.RegionTable,
		BBox: entity.BBox{X: 100, Y: 200, W: 400, H: 300},
	}
	out := strings.Join([]string{
		tsvHeader,
		tsvRow(4, 0, 0, 400, 20, "-1", ""),        // structural row
		tsvRow(5, 10, 20, 36, 14, "87", "Total"),   // word
		tsvRow(5, 50, 20, 48, 14, "91.5", "76.80"), // word, fractional conf
		tsvRow(5, 98, 20, 4, 14, "95", "   "),      // whitespace-only text
		tsvRow(5, 98, 20, 4, 14, "-1", "ghost"),    // negative conf
		"short\trow",
		"",
	}, "\n")

	words := parseTSV(out, region)
	if len(words) != 2 {
		t.Fatalf("words = %d, want 2", len(words))
	}
	if words[0].Text != "Total" || words[1].Text != "76.80" {
		t.Errorf("texts = %q/%q", words[0].Text, words[1].Text)
	}
	// boxes are shifted back into page coordinates
	if words[0].BBox.X != 110 || words[0].BBox.Y != 220 {
		t.Errorf("bbox = (%d,%d), want (110,220)", words[0].BBox.X, words[0].BBox.Y)
	}
	if words[0].Confidence != 0.87 {
		t.Errorf("confidence = %v, want 0.87", words[0].Confidence)
	}
	if words[1].Confidence != 0.915 {
		t.Errorf("confidence = %v, want 0.915", words[1].Confidence)
	}
	if words[0].Region != entity.RegionTable {
		t.Errorf("region tag = %q, want table", words[0].Region)
	}
}

type scriptedRunner struct {
	outputs []string
	args    [][]string
}

func (r *scriptedRunner) Run(_ context.Context, _ string, args ...string) ([]byte, []byte, error) {
	r.args = append(r.args, args)
	out := r.outputs[0]
	if len(r.outputs) > 1 {
		r.outputs = r.outputs[1:]
	}
	return []byte(out), nil, nil
}

func TestTSVEngineSparseRetry(t *testing.T) {
	region := entity.Region{Type: entity.RegionHeader, BBox: entity.BBox{X: 0, Y: 0, W: 200, H: 60}}

	dense := strings.Join([]string{tsvHeader, tsvRow(5, 5, 5, 40, 12, "80", "INVOICE")}, "\n")
	sparse := strings.Join([]string{
		tsvHeader,
		tsvRow(5, 5, 5, 40, 12, "82", "INVOICE"),
		tsvRow(5, 60, 5, 30, 12, "78", "No:"),
		tsvRow(5, 95, 5, 40, 12, "88", "12345"),
	}, "\n")

	runner := &scriptedRunner{outputs: []string{dense, sparse}}
	e := NewTSVEngine("tesseract", "eng", "")
	e.runner = runner

	words, err := e.Recognize(context.Background(), image.NewGray(image.Rect(0, 0, 200, 60)), region)
	if err != nil {
		t.Fatalf("Recognize: %v", err)
	}
	if len(words) != 3 {
		t.Fatalf("words = %d, want 3 from the sparse retry", len(words))
	}
	if len(runner.args) != 2 {
		t.Fatalf("runs = %d, want 2", len(runner.args))
	}
	if !hasFlagValue(runner.args[0], "--psm", "6") {
		t.Errorf("first run args = %v, want --psm 6", runner.args[0])
	}
	if !hasFlagValue(runner.args[1], "--psm", "11") {
		t.Errorf("retry args = %v, want --psm 11", runner.args[1])
	}
}

func TestTSVEngineKeepsDenseResult(t *testing.T) {
	region := entity.Region{Type: entity.RegionBody, BBox: entity.BBox{X: 0, Y: 0, W: 200, H: 60}}
	dense := strings.Join([]string{
		tsvHeader,
		tsvRow(5, 5, 5, 40, 12, "80", "two"),
		tsvRow(5, 50, 5, 40, 12, "85", "words"),
	}, "\n")

	runner := &scriptedRunner{outputs: []string{dense}}
	e := NewTSVEngine("", "", "")
	e.runner = runner

	words, err := e.Recognize(context.Background(), image.NewGray(image.Rect(0, 0, 200, 60)), region)
	if err != nil {
		t.Fatalf("Recognize: %v", err)
	}
	if len(words) != 2 {
		t.Errorf("words = %d, want 2", len(words))
	}
	if len(runner.args) != 1 {
		t.Errorf("runs = %d, want 1 (no sparse retry needed)", len(runner.args))
	}
}

func hasFlagValue(args []string, flag, value string) bool {
	for i := 0; i < len(args)-1; i++ {
		if args[i] == flag && args[i+1] == value {
			return true
		}
	}
	return false
}
