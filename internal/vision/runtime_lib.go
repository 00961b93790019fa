package vision

import "runtime"

// defaultLibraryPath returns the ONNX Runtime shared library name for the
// current OS.
func defaultLibraryPath() string {
	switch runtime.GOOS {
	case "windows":
		return "onnxruntime.dll"
	case "darwin":
		return "libonnxruntime.dylib"
	default:
		return "libonnxruntime.so"
	}
}
