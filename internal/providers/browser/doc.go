/*
Package browser defines the render surface every hosted instance runs on.

# Overview

A Surface is one page in one persistent partition of a shared browser
process. The instance coordinator only talks to this interface, so the same
lifecycle code drives Chrome in production and the in-memory fake in tests.

# Implementations

  - cdp: Chrome over the DevTools protocol (chromedp)
  - surfacetest: scripted fake backed by the sandbox JavaScript runtime

# Events

Surfaces report document lifecycle through Listen:

  - DOMReady: the new document's DOM is parsed
  - LoadComplete: the document and its subresources finished loading
  - Mutation: the observed body changed
  - Gone: the surface vanished underneath the host

Listeners are registered and fired through Listeners, which tolerates
listeners removing themselves while an event is being delivered.

# Subpackages

  - script: embedded page scripts and their templates
  - sandbox: goja runtime emulating the page globals the scripts touch
*/
package browser
