//go:build onnx
// +build onnx

package embedding

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

const (
	onnxInputSide = 224
	onnxBatchSize = 16
)

// ONNX-backed image embedding provider under the onnx build tag.
// Decodes images, resizes to a fixed square input, and feeds NCHW
// float tensors through a dynamic session.
type onnxProvider struct {
	dims        int
	modelPath   string
	mu          sync.Mutex
	session     *ort.DynamicAdvancedSession
	inputNames  []string
	outputNames []string
}

func newONNXProvider(dims int, modelPath string) Provider {
	return &onnxProvider{dims: dims, modelPath: modelPath}
}

func (p *onnxProvider) Dimensions() int { return p.dims }

func (p *onnxProvider) ensureSession() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.session != nil {
		return nil
	}
	if p.modelPath == "" {
		return fmt.Errorf("onnx model path is required")
	}
	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			return fmt.Errorf("initialize onnx runtime: %w", err)
		}
	}
	// Probe IO
	ins, outs, err := ort.GetInputOutputInfo(p.modelPath)
	if err != nil {
		return fmt.Errorf("get IO info: %w", err)
	}
	var inputNames []string
	for _, ii := range ins {
		if ii.DataType == ort.TensorElementDataTypeFloat {
			inputNames = append(inputNames, ii.Name)
			break
		}
	}
	if len(inputNames) == 0 && len(ins) > 0 {
		inputNames = append(inputNames, ins[0].Name)
	}
	if len(inputNames) == 0 {
		return fmt.Errorf("could not determine ONNX input names")
	}
	var outputNames []string
	for _, oi := range outs {
		if oi.DataType == ort.TensorElementDataTypeFloat {
			outputNames = append(outputNames, oi.Name)
			break
		}
	}
	if len(outputNames) == 0 && len(outs) > 0 {
		outputNames = append(outputNames, outs[0].Name)
	}
	opts, err := ort.NewSessionOptions()
	if err != nil {
		return fmt.Errorf("session options: %w", err)
	}
	defer opts.Destroy()
	sess, err := ort.NewDynamicAdvancedSession(p.modelPath, inputNames, outputNames, opts)
	if err != nil {
		return fmt.Errorf("open onnx session: %w", err)
	}
	p.session = sess
	p.inputNames = inputNames
	p.outputNames = outputNames
	return nil
}

func (p *onnxProvider) Embed(ctx context.Context, inputs [][]byte) ([][]float32, error) {
	if err := p.ensureSession(); err != nil {
		return nil, err
	}
	out := make([][]float32, 0, len(inputs))
	for start := 0; start < len(inputs); start += onnxBatchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		end := start + onnxBatchSize
		if end > len(inputs) {
			end = len(inputs)
		}
		vecs, err := p.embedChunk(inputs[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, vecs...)
	}
	return out, nil
}

func (p *onnxProvider) embedChunk(chunk [][]byte) ([][]float32, error) {
	batch := len(chunk)
	plane := onnxInputSide * onnxInputSide
	flat := make([]float32, batch*3*plane)
	for i, data := range chunk {
		img, _, err := image.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("decode image %d: %w", i, err)
		}
		fillPlanes(flat[i*3*plane:(i+1)*3*plane], img)
	}
	shape := ort.NewShape(int64(batch), 3, onnxInputSide, onnxInputSide)
	tensor, err := ort.NewTensor(shape, flat)
	if err != nil {
		return nil, fmt.Errorf("input tensor: %w", err)
	}
	defer tensor.Destroy()
	inVals := []ort.Value{tensor}
	outs := make([]ort.Value, len(p.outputNames))
	if err := p.session.Run(inVals, outs); err != nil {
		return nil, fmt.Errorf("onnx run: %w", err)
	}
	defer func() {
		for _, v := range outs {
			if v != nil {
				v.Destroy()
			}
		}
	}()
	t, ok := outs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("unexpected output tensor type")
	}
	data := t.GetData()
	oshape := t.GetShape()
	if len(oshape) != 2 {
		return nil, fmt.Errorf("unexpected output rank %d", len(oshape))
	}
	rows, cols := int(oshape[0]), int(oshape[1])
	vecs := make([][]float32, rows)
	for r := 0; r < rows; r++ {
		raw := make([]float32, cols)
		copy(raw, data[r*cols:(r+1)*cols])
		vecs[r] = AdjustToDims(raw, p.dims)
	}
	return vecs, nil
}

// fillPlanes writes a nearest-neighbor resize of img into dst as
// channel-major RGB planes scaled to [0,1].
func fillPlanes(dst []float32, img image.Image) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	plane := onnxInputSide * onnxInputSide
	for y := 0; y < onnxInputSide; y++ {
		sy := b.Min.Y + y*h/onnxInputSide
		for x := 0; x < onnxInputSide; x++ {
			sx := b.Min.X + x*w/onnxInputSide
			r, g, bl, _ := img.At(sx, sy).RGBA()
			idx := y*onnxInputSide + x
			dst[idx] = float32(r>>8) / 255.0
			dst[plane+idx] = float32(g>>8) / 255.0
			dst[2*plane+idx] = float32(bl>>8) / 255.0
		}
	}
}
