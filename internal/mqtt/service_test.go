package mqtt

import "testing"

func TestRoomFromTopic(t *testing.T) {
	s := &Service{prefix: "heatd"}

	tests := []struct {
		topic    string
		wantRoom string
		wantOK   bool
	}{
		{topic: "heatd/living_room/external/temperature", wantRoom: "living_room", wantOK: true},
		{topic: "heatd/bedroom/actuator/activity", wantRoom: "bedroom", wantOK: true},
		{topic: "other/living_room/external/temperature", wantOK: false},
		{topic: "heatd/living_room", wantOK: false},
		{topic: "heatd//external/temperature", wantOK: false},
		{topic: "heatd", wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.topic, func(t *testing.T) {
			room, ok := s.roomFromTopic(tt.topic)
			if ok != tt.wantOK {
				t.Fatalf("roomFromTopic(%q) ok = %v, want %v", tt.topic, ok, tt.wantOK)
			}
			if ok && room != tt.wantRoom {
				t.Errorf("roomFromTopic(%q) = %q, want %q", tt.topic, room, tt.wantRoom)
			}
		})
	}
}

func TestParseTemperature(t *testing.T) {
	tests := []struct {
		payload string
		want    float64
		wantErr bool
	}{
		{payload: "21.5", want: 21.5},
		{payload: " 19.0\n", want: 19.0},
		{payload: "-3.2", want: -3.2},
		{payload: "unavailable", wantErr: true},
		{payload: "", wantErr: true},
	}

	for _, tt := range tests {
		got, err := parseTemperature([]byte(tt.payload))
		if (err != nil) != tt.wantErr {
			t.Errorf("parseTemperature(%q) error = %v, wantErr %v", tt.payload, err, tt.wantErr)
			continue
		}
		if err == nil && got != tt.want {
			t.Errorf("parseTemperature(%q) = %v, want %v", tt.payload, got, tt.want)
		}
	}
}
