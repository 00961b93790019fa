package vision

import (
	"image"

	"golang.org/x/image/draw"
)

// toCHW resizes img to size x size and lays it out as normalized CHW
// float32: (pixel - mean) / std per channel.
func toCHW(img image.Image, size int, mean, std float32) []float32 {
	resized := resize(img, size, size)
	plane := size * size
	data := make([]float32, 3*plane)

	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			r, g, b, _ := resized.At(x, y).RGBA()
			i := y*size + x
			data[i] = (float32(r>>8) - mean) / std
			data[plane+i] = (float32(g>>8) - mean) / std
			data[2*plane+i] = (float32(b>>8) - mean) / std
		}
	}
	return data
}

func resize(img image.Image, w, h int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.BiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)
	return dst
}

// crop cuts the box out of img with 10% padding on every side, clamped to
// the image. It returns nil for an empty box.
func crop(img image.Image, box [4]float32) image.Image {
	b := img.Bounds()
	r := image.Rect(int(box[0]), int(box[1]), int(box[2]), int(box[3])).Intersect(b)
	if r.Empty() {
		return nil
	}
	padX, padY := r.Dx()/10, r.Dy()/10
	r = image.Rect(r.Min.X-padX, r.Min.Y-padY, r.Max.X+padX, r.Max.Y+padY).Intersect(b)

	dst := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	draw.Draw(dst, dst.Bounds(), img, r.Min, draw.Src)
	return dst
}
