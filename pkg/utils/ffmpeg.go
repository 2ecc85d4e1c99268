package utils

import "os/exec"

// CheckFFmpeg 检查ffmpeg与ffprobe是否在PATH中
func CheckFFmpeg() bool {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		return false
	}
	_, err := exec.LookPath("ffprobe")
	return err == nil
}
