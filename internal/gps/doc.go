// Package gps reads the ground station's own position from a local GNSS
// receiver, either NMEA over a serial port (RMC/GGA) or gpsd's JSON stream.
//
// The Service keeps the latest fix; callers poll it with Fix.
package gps
