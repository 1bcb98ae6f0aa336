package synth

import (
	"bytes"
	"io"
	"sync"
)

// ----------------------------- Buffer pools ---------------------------------

var bufPool = sync.Pool{New: func() any { return new(bytes.Buffer) }}

// Buffers that grew past this are dropped instead of pooled.
const maxPooledBuffer = 64 << 10

func getBuffer() *bytes.Buffer {
	buf := bufPool.Get().(*bytes.Buffer)
	buf.Reset()
	return buf
}

func putBuffer(buf *bytes.Buffer) {
	if buf.Cap() > maxPooledBuffer {
		return
	}
	bufPool.Put(buf)
}

// WarmupPools pre-allocates buffers of a common size. Reset keeps a
// buffer's capacity, so the growth survives until the buffer is dropped.
func WarmupPools() {
	for i := 0; i < 10; i++ {
		buf := bufPool.Get().(*bytes.Buffer)
		buf.Grow(1024)
		bufPool.Put(buf)
	}
}

// ----------------------------- Template pools for hot paths -----------------

// TemplatePool renders one compiled template into pooled buffers, flushing
// each render to the writer in a single write.
type TemplatePool struct {
	tmpl *Template
}

// NewTemplatePool compiles src once for pooled rendering.
func NewTemplatePool(src string, opts ...Option) (*TemplatePool, error) {
	t, err := Compile(src, opts...)
	if err != nil {
		return nil, err
	}
	return &TemplatePool{tmpl: t}, nil
}

// Render writes the output to w only when rendering succeeds.
func (tp *TemplatePool) Render(w io.Writer, data any) error {
	buf := getBuffer()
	defer putBuffer(buf)
	if err := tp.tmpl.Render(buf, data); err != nil {
		return err
	}
	_, err := buf.WriteTo(w)
	return err
}

func (tp *TemplatePool) RenderString(data any) (string, error) {
	return tp.tmpl.RenderString(data)
}
