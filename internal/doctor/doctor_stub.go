//go:build !whisper

package doctor

func checkPortAudio() Result {
	return Result{Name: "portaudio", Pass: false, Detail: "whisper engine not compiled in; rebuild with -tags whisper"}
}
