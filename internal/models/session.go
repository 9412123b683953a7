package models

// SessionSnapshot is the wire form of the session state
type SessionSnapshot struct {
    Mode           string `json:"mode"`
    Connection     string `json:"connection"`
    Address        string `json:"address,omitempty"`
    Simulation     bool   `json:"simulation"`
    Path           string `json:"path,omitempty"`
    CurrentMotor   int    `json:"currentMotor"`
    Remaining      int    `json:"remaining"`
    KeyboardActive bool   `json:"keyboardActive"`
    Pending        string `json:"pending,omitempty"`
    Polling        bool   `json:"polling"`
    CanActivate    bool   `json:"canActivate"`
    CanReset       bool   `json:"canReset"`
}
