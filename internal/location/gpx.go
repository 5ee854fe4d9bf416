package location

import (
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/sebastian-tarka/racefy-mobile.io-sub002/internal/gps"
)

type gpxFile struct {
	XMLName xml.Name   `xml:"gpx"`
	Tracks  []gpxTrack `xml:"trk"`
}

type gpxTrack struct {
	Segments []gpxSegment `xml:"trkseg"`
}

type gpxSegment struct {
	Points []gpxPoint `xml:"trkpt"`
}

type gpxPoint struct {
	Lat       float64  `xml:"lat,attr"`
	Lon       float64  `xml:"lon,attr"`
	Elevation *float64 `xml:"ele"`
	Time      string   `xml:"time"`
	Speed     *float64 `xml:"extensions>speed"`
	HDOP      *float64 `xml:"hdop"`
}

// gpxAccuracyPerHDOP converts HDOP to an approximate horizontal accuracy in metres.
const gpxAccuracyPerHDOP = 5.0

// ReadGPX parses every track point of a GPX document into samples, in file
// order. Points without a parseable time carry no timestamp.
func ReadGPX(r io.Reader) ([]gps.Sample, error) {
	var doc gpxFile
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("parse gpx: %w", err)
	}

	var samples []gps.Sample
	for _, trk := range doc.Tracks {
		for _, seg := range trk.Segments {
			for _, pt := range seg.Points {
				s := gps.Sample{Lat: pt.Lat, Lng: pt.Lon, Elevation: pt.Elevation, SpeedMps: pt.Speed}
				if ts, err := time.Parse(time.RFC3339, pt.Time); err == nil {
					s.TimestampMs = ts.UnixMilli()
				}
				if pt.HDOP != nil {
					s.AccuracyM = gps.Float(*pt.HDOP * gpxAccuracyPerHDOP)
				}
				samples = append(samples, s)
			}
		}
	}
	return samples, nil
}

func ReadGPXFile(path string) ([]gps.Sample, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open gpx: %w", err)
	}
	defer f.Close()
	return ReadGPX(f)
}
