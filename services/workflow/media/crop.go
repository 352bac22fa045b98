// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package media implements the pixel and time arithmetic of media nodes:
// percentage crops of decoded images and frame timestamp resolution.
package media

import (
	"bytes"
	"fmt"
	"image"
	"image/draw"
	_ "image/gif"
	"image/jpeg"
	"image/png"
	"math"

	"github.com/AleutianAI/AleutianFlow/services/workflow/flowerr"
)

// JPEGQuality is used when re-encoding JPEG crops.
const JPEGQuality = 90

// Rect is a crop rectangle in pixels.
type Rect struct {
	Left   int
	Top    int
	Width  int
	Height int
}

// CropRect converts percentages of a W×H image into a pixel rectangle.
//
// The origin is clamped inside the image and the size is clamped to what is
// left of it, with a floor of one pixel:
//
//	left  = min(round(x% · W), max(W−1, 0))
//	width = max(min(round(width% · W), W − left), 1)
//
// and the same for top and height.
func CropRect(imgW, imgH int, x, y, width, height float64) Rect {
	left := min(roundPct(x, imgW), max(imgW-1, 0))
	top := min(roundPct(y, imgH), max(imgH-1, 0))
	return Rect{
		Left:   left,
		Top:    top,
		Width:  max(min(roundPct(width, imgW), imgW-left), 1),
		Height: max(min(roundPct(height, imgH), imgH-top), 1),
	}
}

func roundPct(pct float64, size int) int {
	return int(math.Round(pct / 100 * float64(size)))
}

// CropImage decodes a PNG, JPEG or GIF image, crops it by percentages and
// re-encodes it. JPEG input stays JPEG; everything else is written as PNG.
//
// Outputs:
//
//	[]byte - Encoded crop.
//	string - MIME type of the encoded crop.
//	Rect - The pixel rectangle that was cut.
//	error - Validation error for undecodable or empty images.
func CropImage(data []byte, x, y, width, height float64) ([]byte, string, Rect, error) {
	const op = "crop image"

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", Rect{}, flowerr.Validationf(op, "decode image: %w", err)
	}

	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, "", Rect{}, flowerr.Validationf(op, "image has no pixels")
	}

	r := CropRect(b.Dx(), b.Dy(), x, y, width, height)
	bounds := image.Rect(r.Left, r.Top, r.Left+r.Width, r.Top+r.Height).Add(b.Min)
	cropped := subImage(img, bounds)

	var buf bytes.Buffer
	mime := "image/png"
	switch format {
	case "jpeg":
		mime = "image/jpeg"
		err = jpeg.Encode(&buf, cropped, &jpeg.Options{Quality: JPEGQuality})
	default:
		err = png.Encode(&buf, cropped)
	}
	if err != nil {
		return nil, "", Rect{}, fmt.Errorf("encode %s: %w", mime, err)
	}
	return buf.Bytes(), mime, r, nil
}

type subImager interface {
	SubImage(r image.Rectangle) image.Image
}

func subImage(img image.Image, r image.Rectangle) image.Image {
	if s, ok := img.(subImager); ok {
		return s.SubImage(r)
	}
	dst := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	draw.Draw(dst, dst.Bounds(), img, r.Min, draw.Src)
	return dst
}
