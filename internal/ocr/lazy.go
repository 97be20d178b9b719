package ocr

import "sync"

// Lazy is a title reader that starts Tesseract on first use, so batches whose
// titles are all text never need the OCR runtime.
type Lazy struct {
	Lang string

	once   sync.Once
	engine *Engine
	err    error
}

// ReadTitle implements source.TitleReader.
func (l *Lazy) ReadTitle(path string) (string, error) {
	l.once.Do(func() {
		l.engine, l.err = NewEngine(l.Lang)
	})
	if l.err != nil {
		return "", l.err
	}
	return l.engine.ReadTitle(path)
}

// Close releases the engine if it was started.
func (l *Lazy) Close() error {
	if l.engine == nil {
		return nil
	}
	return l.engine.Close()
}
